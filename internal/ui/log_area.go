package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SubmitInputMsg is a tea.Msg that signals a command line was submitted.
type SubmitInputMsg struct{ Content string }

// FocusTextareaMsg is a tea.Msg to command the LogAreaModel to focus its input.
type FocusTextareaMsg struct{}

// Senders with dedicated styling. Any other sender is the local device
// echoing a command.
const (
	senderSystem   = "System"
	senderError    = "Error"
	senderWarning  = "Warning"
	senderTransfer = "Transfer"
)

// Message is one line of the event log.
type Message struct {
	Timestamp time.Time
	Sender    string
	Content   string
}

// LogAreaModel shows the session event log above a command input.
type LogAreaModel struct {
	viewport      viewport.Model
	textarea      textarea.Model
	width         int
	height        int // viewport plus input box
	viewportStyle lipgloss.Style
	inputStyle    lipgloss.Style

	messageRenderer *lipgloss.Renderer
	deviceName      string
}

func NewLogAreaModel(initialWidth, initialHeight int, deviceName string) LogAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Type a command, /help for the list..."
	ta.CharLimit = 0
	ta.SetWidth(initialWidth)
	ta.SetHeight(1)
	ta.FocusedStyle.Prompt = PromptStyle.Render(deviceName + "> ")
	ta.BlurredStyle.Prompt = PromptStyle.Render(deviceName + "> ")
	ta.ShowLineNumbers = false

	vp := viewport.New(initialWidth, initialHeight-3)

	return LogAreaModel{
		textarea:        ta,
		viewport:        vp,
		width:           initialWidth,
		height:          initialHeight,
		deviceName:      deviceName,
		messageRenderer: lipgloss.DefaultRenderer(),
	}
}

func (m LogAreaModel) Init() tea.Cmd {
	return nil
}

// Focus focuses the command input.
func (m *LogAreaModel) Focus() tea.Cmd {
	return m.textarea.Focus()
}

func (m LogAreaModel) Update(msg tea.Msg) (LogAreaModel, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds := []tea.Cmd{tiCmd, vpCmd}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter {
			inputValue := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if inputValue != "" {
				return m, func() tea.Msg { return SubmitInputMsg{Content: inputValue} }
			}
		}
	case FocusTextareaMsg:
		cmds = append(cmds, m.textarea.Focus())
	}

	return m, tea.Batch(cmds...)
}

// SetDimensions resizes the viewport and input to fill width by
// totalAllocatedHeight.
func (m *LogAreaModel) SetDimensions(width, totalAllocatedHeight int) {
	m.width = width
	m.height = totalAllocatedHeight

	inputBoxVisualHeight := min(max(m.textarea.Height()+2, 3), totalAllocatedHeight)
	m.viewport.Width = m.width
	m.viewport.Height = max(totalAllocatedHeight-inputBoxVisualHeight, 0)
	m.textarea.SetWidth(m.width)
}

// View renders the log followed by the command input.
func (m *LogAreaModel) View(messages []Message) string {
	m.viewportStyle = lipgloss.NewStyle().
		Width(m.width).
		Height(m.viewport.Height).
		Border(lipgloss.NormalBorder(), true, true, false, true).
		PaddingLeft(1).
		PaddingRight(1)

	m.viewport.SetContent(m.renderMessages(messages))
	m.viewport.GotoBottom()

	inputBoxVisualHeight := min(max(m.textarea.Height()+2, 3), m.height)
	m.inputStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true).
		Width(m.width).
		Height(inputBoxVisualHeight).
		PaddingLeft(1).
		PaddingRight(1)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewportStyle.Render(m.viewport.View()),
		m.inputStyle.Render(m.textarea.View()),
	)
}

// renderMessages formats and wraps messages to the viewport width, indenting
// continuation lines under the first.
func (m *LogAreaModel) renderMessages(messages []Message) string {
	var lines []string

	contentWidth := max(m.width-m.viewportStyle.GetHorizontalBorderSize()-m.viewportStyle.GetHorizontalPadding(), 1)

	renderer := m.messageRenderer
	if renderer == nil {
		renderer = lipgloss.DefaultRenderer()
	}

	for _, msg := range messages {
		timestamp := TimestampStyle.Render(msg.Timestamp.Format("15:04:05"))

		var prefix, content string
		switch msg.Sender {
		case senderSystem:
			prefix = fmt.Sprintf("%s --- ", timestamp)
			content = SystemStyle.Render(msg.Content)
		case senderError:
			prefix = fmt.Sprintf("%s !!! ", timestamp)
			content = ErrorStyle.Render(msg.Content)
		case senderWarning:
			prefix = fmt.Sprintf("%s  !  ", timestamp)
			content = WarningStyle.Render(msg.Content)
		case senderTransfer:
			prefix = fmt.Sprintf("%s %s ", timestamp, TransferStyle.Render("<xfer>"))
			content = msg.Content
		default:
			prefix = fmt.Sprintf("%s %s ", timestamp, CommandStyle.Render("<"+msg.Sender+">"))
			content = msg.Content
		}

		prefixLen := lipgloss.Width(prefix)
		maxContentWidth := max(contentWidth-prefixLen, 1)
		rendered := lipgloss.NewStyle().Width(maxContentWidth).Renderer(renderer).Render(content)

		contentLines := strings.Split(rendered, "\n")
		lines = append(lines, prefix+contentLines[0])
		indentation := strings.Repeat(" ", prefixLen)
		for _, l := range contentLines[1:] {
			lines = append(lines, indentation+l)
		}
	}
	return strings.Join(lines, "\n")
}
