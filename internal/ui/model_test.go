package ui

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	linkprogress "github.com/bjarneo/linkdrop/internal/progress"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()
	m := NewModel(ModelOptions{Config: cfg, Role: core.RoleHost, DeviceName: "Kestrel-0001"})
	t.Cleanup(m.closeSession)
	return m
}

func lastMessage(m *Model) Message {
	return m.Messages[len(m.Messages)-1]
}

func TestStatusCommandReportsSession(t *testing.T) {
	m := newTestModel(t)

	m.Update(SubmitInputMsg{Content: "/status"})

	var text []string
	for _, msg := range m.Messages {
		text = append(text, msg.Content)
	}
	joined := strings.Join(text, "\n")
	for _, want := range []string{"State: IDLE", "Peer: unknown", "Active transfers: 0", "Kestrel-0001"} {
		if !strings.Contains(joined, want) {
			t.Errorf("status output missing %q:\n%s", want, joined)
		}
	}
}

func TestUnknownAndIncompleteCommands(t *testing.T) {
	m := newTestModel(t)

	m.Update(SubmitInputMsg{Content: "/bogus"})
	if got := lastMessage(m); got.Sender != senderError || !strings.Contains(got.Content, "/bogus") {
		t.Errorf("unknown command produced %+v", got)
	}

	if cmd := m.runCommand("/send"); cmd != nil {
		t.Errorf("/send without a path returned a command")
	}
	if got := lastMessage(m); got.Sender != senderError || !strings.Contains(got.Content, "Usage") {
		t.Errorf("/send without a path produced %+v", got)
	}
}

func TestSendBeforeConnectedFails(t *testing.T) {
	m := newTestModel(t)
	cmd := m.runCommand("/send /tmp/nothing.txt")
	if cmd == nil {
		t.Fatalf("/send returned no command")
	}
	msg, ok := cmd().(ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %T", cmd())
	}
	if !errors.Is(msg.Err, core.ErrInvalidTransition) {
		t.Errorf("unexpected error: %v", msg.Err)
	}
}

func TestHelpToggle(t *testing.T) {
	m := newTestModel(t)
	m.Update(SubmitInputMsg{Content: "/help"})
	if !m.ShowHelp {
		t.Fatalf("help not shown")
	}
	if !strings.Contains(m.View(), "/send <file_path>") {
		t.Errorf("help view lacks the command list")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.ShowHelp {
		t.Errorf("Esc did not close help")
	}
}

func TestSessionNotificationsUpdateHeader(t *testing.T) {
	m := newTestModel(t)

	m.Update(StateMsg{State: core.StateConnected})
	m.Update(PeerAddressMsg{Addr: netip.MustParseAddr("192.168.49.5")})

	header := m.headerView()
	for _, want := range []string{"HOST", "Kestrel-0001", "CONNECTED", "192.168.49.5"} {
		if !strings.Contains(header, want) {
			t.Errorf("header %q missing %q", header, want)
		}
	}

	m.Update(StateMsg{State: core.StateDisconnected})
	if m.PeerAddr.IsValid() {
		t.Errorf("peer address kept after disconnect")
	}
}

func TestProgressFollowsOldestTransfer(t *testing.T) {
	m := newTestModel(t)
	start := time.Now()
	a := core.Transfer{ID: "a", Name: "a.bin", Size: 100, StartedAt: start}
	b := core.Transfer{ID: "b", Name: "b.bin", Size: 100, Direction: core.Receiving, StartedAt: start.Add(time.Second)}

	m.Update(ProgressMsg{Transfer: a, Sample: linkprogress.Sample{BytesMoved: 10, TotalBytes: 100}})
	m.Update(ProgressMsg{Transfer: b, Sample: linkprogress.Sample{BytesMoved: 50, TotalBytes: 100}})
	if m.current != "a" {
		t.Fatalf("current = %q, want a", m.current)
	}
	if !strings.Contains(m.footerView(), "a.bin") {
		t.Errorf("footer %q does not show a.bin", m.footerView())
	}

	m.Update(TransferDoneMsg{Done: core.Completion{Transfer: a, Location: "127.0.0.1:8988", Digest: "abcdef", Elapsed: time.Second}})
	if m.current != "b" {
		t.Fatalf("current = %q after a finished, want b", m.current)
	}
	if got := lastMessage(m); got.Sender != senderTransfer || !strings.Contains(got.Content, "Sent a.bin") {
		t.Errorf("completion message = %+v", got)
	}

	m.Update(TransferFailedMsg{Transfer: b, Err: core.ErrIncompleteTransfer})
	if m.current != "" || len(m.transfers) != 0 {
		t.Errorf("transfers left after failure: current=%q n=%d", m.current, len(m.transfers))
	}
	if got := lastMessage(m); got.Sender != senderError || !strings.Contains(got.Content, "Receiving b.bin failed") {
		t.Errorf("failure message = %+v", got)
	}
	if m.footerView() != "" {
		t.Errorf("footer shown with no transfers")
	}
}

func TestDescribeCompletionReceived(t *testing.T) {
	got := describeCompletion(core.Completion{
		Transfer: core.Transfer{Name: "a.txt", Size: 3, Direction: core.Receiving, Peer: "10.0.0.2:5555"},
		Location: "/tmp/downloads/a.txt",
		MIMEType: "text/plain; charset=utf-8",
		Digest:   "0123456789abcdef0123",
		Rate:     3 << 20,
	})
	for _, want := range []string{"Received a.txt", "10.0.0.2:5555", "/tmp/downloads/a.txt", "text/plain", "0123456789abcdef", linkprogress.FormatRate(3 << 20)} {
		if !strings.Contains(got, want) {
			t.Errorf("%q missing %q", got, want)
		}
	}
	if strings.Contains(got, "0123456789abcdef0123") {
		t.Errorf("digest not shortened: %q", got)
	}
}

func TestInitialModelSkipsConfiguredPrompts(t *testing.T) {
	cfg := config.Default()
	cfg.Role = "client"
	m := NewInitialModel(cfg, nil, nil)
	if m.state != enterDeviceName || m.role != core.RoleClient {
		t.Fatalf("state=%d role=%s, want device name prompt for client", m.state, m.role)
	}

	m = NewInitialModel(config.Default(), nil, nil)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'h'}})
	if m.state != enterDeviceName || m.role != core.RoleHost {
		t.Errorf("state=%d role=%s after 'h'", m.state, m.role)
	}
}
