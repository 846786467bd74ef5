package ui

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/discovery"
	linkprogress "github.com/bjarneo/linkdrop/internal/progress"
	"github.com/bjarneo/linkdrop/internal/session"
)

// ModelOptions carries what the console needs to run one session.
type ModelOptions struct {
	Config     config.Config
	Role       core.Role
	DeviceName string
	Log        *zap.Logger
	Scope      tally.Scope
	Program    *tea.Program
}

// transferView is the last known progress of one transfer.
type transferView struct {
	transfer core.Transfer
	sample   linkprogress.Sample
}

// Model is the operator console for one session.
type Model struct {
	Program    *tea.Program
	Config     config.Config
	Role       core.Role
	DeviceName string
	Session    *session.Manager

	log    *zap.Logger
	scope  tally.Scope
	link   discovery.LinkDiscovery
	ctx    context.Context
	cancel context.CancelFunc

	Status   core.State
	PeerAddr netip.Addr
	Peers    []core.Peer

	logArea   LogAreaModel
	Progress  progress.Model
	Messages  []Message
	transfers map[string]*transferView
	current   string
	ShowHelp  bool
	width     int
}

func NewModel(opts ModelOptions) *Model {
	cfg := opts.Config
	cfg.DeviceName = opts.DeviceName
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	scope := opts.Scope
	if scope == nil {
		scope = tally.NoopScope
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		Program:    opts.Program,
		Config:     cfg,
		Role:       opts.Role,
		DeviceName: opts.DeviceName,
		log:        log,
		scope:      scope,
		ctx:        ctx,
		cancel:     cancel,
		Status:     core.StateIdle,
		logArea:    NewLogAreaModel(80, 20, opts.DeviceName),
		Progress:   progress.New(progress.WithDefaultGradient()),
		transfers:  make(map[string]*transferView),
		Messages: []Message{{
			Timestamp: time.Now(),
			Sender:    senderSystem,
			Content:   fmt.Sprintf("Starting as %s on port %d, waiting for the link...", opts.Role, cfg.Port),
		}},
	}
	m.Session = session.New(session.Options{
		Config: cfg,
		Log:    log,
		Scope:  scope,
		Notify: &programMessageSender{program: opts.Program},
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.logArea.Focus(), m.openSession())
}

// openSession binds and starts discovery off the event loop, since the
// session reports back through the program.
func (m *Model) openSession() tea.Cmd {
	sess, ctx, role := m.Session, m.ctx, m.Role
	return func() tea.Msg {
		link, err := sess.Open(ctx, role)
		if err != nil {
			if errors.Is(err, core.ErrBindFailure) {
				// Already reported by the session.
				return nil
			}
			return ErrorMsg{Err: err}
		}
		return linkStartedMsg{link: link}
	}
}

// closeSession tears the session and its discovery backend down.
func (m *Model) closeSession() {
	if m.link != nil {
		m.link.Close()
		m.link = nil
	}
	m.cancel()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if frame, ok := msg.(progress.FrameMsg); ok {
		pm, cmd := m.Progress.Update(frame)
		if p, ok := pm.(progress.Model); ok {
			m.Progress = p
		}
		return m, cmd
	}

	var logCmd tea.Cmd
	m.logArea, logCmd = m.logArea.Update(msg)
	if logCmd != nil {
		cmds = append(cmds, logCmd)
	}

	switch msg := msg.(type) {
	case SubmitInputMsg:
		if cmd := m.runCommand(msg.Content); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		if m.ShowHelp {
			if msg.Type == tea.KeyEsc {
				m.ShowHelp = false
			}
			break
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.quit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.Progress.Width = max(msg.Width-lipgloss.Width(m.progressLabel())-4, 10)
		logAreaHeight := max(msg.Height-lipgloss.Height(m.headerView())-1, 0)
		m.logArea.SetDimensions(msg.Width, logAreaHeight)
		StatusStyle = StatusStyle.Width(msg.Width)

	case linkStartedMsg:
		m.link = msg.link
		m.addMessage(senderSystem, fmt.Sprintf("Discovery started (%s)", m.Config.Discovery))

	case StateMsg:
		m.Status = msg.State
		m.addMessage(senderSystem, m.describeState(msg.State))
		if msg.State == core.StateDisconnected {
			m.PeerAddr = netip.Addr{}
		}

	case PeerAddressMsg:
		m.PeerAddr = msg.Addr
		m.addMessage(senderSystem, fmt.Sprintf("Peer address: %s", msg.Addr))

	case PeersMsg:
		m.Peers = msg.Peers
		m.addMessage(senderSystem, describePeers(msg.Peers))

	case ProgressMsg:
		tv, ok := m.transfers[msg.Transfer.ID]
		if !ok {
			tv = &transferView{transfer: msg.Transfer}
			m.transfers[msg.Transfer.ID] = tv
		}
		tv.sample = msg.Sample
		if m.current == "" {
			m.current = msg.Transfer.ID
		}
		if m.current == msg.Transfer.ID {
			cmds = append(cmds, m.Progress.SetPercent(msg.Sample.Fraction()))
		}

	case TransferDoneMsg:
		m.addMessage(senderTransfer, describeCompletion(msg.Done))
		if cmd := m.finishTransfer(msg.Done.Transfer.ID); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case TransferFailedMsg:
		verb := "Sending"
		if msg.Transfer.Direction == core.Receiving {
			verb = "Receiving"
		}
		m.addMessage(senderError, fmt.Sprintf("%s %s failed: %v", verb, msg.Transfer.Name, msg.Err))
		if cmd := m.finishTransfer(msg.Transfer.ID); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case InfoMsg:
		m.addMessage(senderSystem, msg.Info)

	case WarningMsg:
		m.addMessage(senderWarning, msg.Warning)

	case ErrorMsg:
		m.addMessage(senderError, msg.Err.Error())

	case resetDoneMsg:
		initial := NewInitialModel(m.Config, m.log, m.scope)
		initial.SetProgram(m.Program)
		return initial, initial.Init()
	}

	return m, tea.Batch(cmds...)
}

// runCommand handles one submitted line.
func (m *Model) runCommand(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	m.addMessage(m.DeviceName, line)

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/send":
		if arg == "" {
			m.addMessage(senderError, "Usage: /send <file_path>")
			return nil
		}
		sess, ctx := m.Session, m.ctx
		return func() tea.Msg {
			id, err := sess.SendFile(ctx, arg)
			if err != nil {
				return ErrorMsg{Err: err}
			}
			return InfoMsg{Info: fmt.Sprintf("Sending %s (transfer %s)", arg, shortID(id))}
		}
	case "/status":
		for _, l := range m.statusLines() {
			m.addMessage(senderSystem, l)
		}
	case "/peers":
		m.addMessage(senderSystem, describePeers(m.Peers))
	case "/reset":
		sess := m.Session
		m.closeSession()
		return func() tea.Msg {
			sess.Reset()
			return resetDoneMsg{}
		}
	case "/help":
		m.ShowHelp = !m.ShowHelp
	case "/quit":
		return m.quit()
	default:
		m.addMessage(senderError, fmt.Sprintf("Unknown command %q, type /help for the list", name))
	}
	return nil
}

// quit disconnects off the event loop, then exits.
func (m *Model) quit() tea.Cmd {
	sess := m.Session
	m.closeSession()
	return tea.Sequence(func() tea.Msg {
		sess.Disconnect()
		return nil
	}, tea.Quit)
}

func (m *Model) finishTransfer(id string) tea.Cmd {
	delete(m.transfers, id)
	if m.current != id {
		return nil
	}
	m.current = ""
	var next *transferView
	for tid, tv := range m.transfers {
		if next == nil || tv.transfer.StartedAt.Before(next.transfer.StartedAt) {
			m.current, next = tid, tv
		}
	}
	if next == nil {
		return m.Progress.SetPercent(0)
	}
	return m.Progress.SetPercent(next.sample.Fraction())
}

func (m *Model) addMessage(sender, content string) {
	m.Messages = append(m.Messages, Message{Timestamp: time.Now(), Sender: sender, Content: content})
}

func (m *Model) statusLines() []string {
	peer := "unknown"
	if addr, ok := m.Session.PeerAddress(); ok {
		peer = addr.String()
	}
	return []string{
		fmt.Sprintf("Device: %s (%s)", m.DeviceName, m.Session.Role()),
		fmt.Sprintf("State: %s", m.Session.State()),
		fmt.Sprintf("Peer: %s", peer),
		fmt.Sprintf("Listener: port %d, ready %t", m.Config.Port, m.Session.ListenerReady()),
		fmt.Sprintf("Active transfers: %d", m.Session.ActiveTransfers()),
		fmt.Sprintf("Downloads: %s", m.Config.DownloadDir),
	}
}

func (m *Model) describeState(state core.State) string {
	switch state {
	case core.StateIdle:
		return "Session idle"
	case core.StateRoleSelected:
		return fmt.Sprintf("Role selected: %s", m.Role)
	case core.StateListening:
		return fmt.Sprintf("Listening on port %d", m.Config.Port)
	case core.StateConnected:
		return "Link formed, ready to send"
	case core.StateDisconnected:
		return "Session disconnected, /reset to start over"
	}
	return state.String()
}

func describePeers(peers []core.Peer) string {
	if len(peers) == 0 {
		return "No peers in range"
	}
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		names = append(names, fmt.Sprintf("%s [%s] %s", p.Name, p.Role, p.Address))
	}
	sort.Strings(names)
	return "Peers: " + strings.Join(names, ", ")
}

func describeCompletion(done core.Completion) string {
	t := done.Transfer
	rate := ""
	if done.Rate > 0 {
		rate = ", " + linkprogress.FormatRate(done.Rate)
	}
	if t.Direction == core.Receiving {
		return fmt.Sprintf("Received %s (%s%s) from %s, saved to %s [%s] blake2b %s",
			t.Name, linkprogress.FormatSize(t.Size), rate, t.Peer, done.Location, done.MIMEType, shortDigest(done.Digest))
	}
	return fmt.Sprintf("Sent %s (%s%s) to %s, blake2b %s",
		t.Name, linkprogress.FormatSize(t.Size), rate, done.Location, shortDigest(done.Digest))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}

func (m *Model) View() string {
	if m.ShowHelp {
		return m.helpView()
	}

	body := m.logArea.View(m.Messages)
	if footer := m.footerView(); footer != "" {
		return fmt.Sprintf("%s\n%s\n%s", m.headerView(), body, footer)
	}
	return fmt.Sprintf("%s\n%s", m.headerView(), body)
}

func (m *Model) helpView() string {
	return HelpBoxStyle.Render(
		"Available Commands:\n" +
			"  /send <file_path> - Send a file to the peer\n" +
			"  /status           - Show session state, peer and listener\n" +
			"  /peers            - List devices discovered on the link\n" +
			"  /reset            - End this session and pick a role again\n" +
			"  /help             - Toggle this help message\n" +
			"  /quit             - Disconnect and exit (Ctrl+C/Esc also works)\n" +
			"\nIncoming files are saved automatically to " + m.Config.DownloadDir + "\n" +
			"\n(Press Esc to close this help menu)",
	)
}

func (m *Model) headerView() string {
	parts := []string{
		strings.ToUpper(m.Role.String()),
		m.DeviceName,
		m.Status.String(),
	}
	if m.PeerAddr.IsValid() {
		parts = append(parts, "peer "+m.PeerAddr.String())
	}
	if n := len(m.transfers); n > 0 {
		parts = append(parts, fmt.Sprintf("%d active", n))
	}
	return StatusStyle.Render(strings.Join(parts, " | "))
}

func (m *Model) progressLabel() string {
	tv, ok := m.transfers[m.current]
	if !ok {
		return ""
	}
	arrow := "->"
	if tv.transfer.Direction == core.Receiving {
		arrow = "<-"
	}
	return fmt.Sprintf("%s %s %d%% %s", arrow, tv.transfer.Name, tv.sample.Percent(),
		linkprogress.FormatRate(tv.sample.RateBytesPerSec))
}

func (m *Model) footerView() string {
	label := m.progressLabel()
	if label == "" {
		return ""
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, TransferStyle.Render(label), "  ", m.Progress.View())
}
