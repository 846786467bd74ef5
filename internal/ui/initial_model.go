package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/util"
)

// InitialModel asks for the role and device name before a session starts.
type InitialModel struct {
	program         *tea.Program
	config          config.Config
	log             *zap.Logger
	scope           tally.Scope
	role            core.Role
	deviceNameInput textinput.Model
	state           initialState
	err             error
}

type initialState int

const (
	chooseRole initialState = iota
	enterDeviceName
)

// startSessionMsg moves from the prompts to the console.
type startSessionMsg struct{}

// NewInitialModel skips the prompts whose answers cfg already holds.
func NewInitialModel(cfg config.Config, log *zap.Logger, scope tally.Scope) *InitialModel {
	deviceNameInput := textinput.New()
	deviceNameInput.Placeholder = "Device name"
	deviceNameInput.CharLimit = 64

	m := &InitialModel{
		config:          cfg,
		log:             log,
		scope:           scope,
		deviceNameInput: deviceNameInput,
		state:           chooseRole,
	}
	if role, ok := core.ParseRole(cfg.Role); ok {
		m.role = role
		m.state = enterDeviceName
		m.deviceNameInput.Focus()
	}
	return m
}

func (m *InitialModel) Init() tea.Cmd {
	if m.state == enterDeviceName && m.config.DeviceName != "" {
		return func() tea.Msg { return startSessionMsg{} }
	}
	return textinput.Blink
}

func (m *InitialModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case startSessionMsg:
		return m.startSession(m.config.DeviceName)
	case tea.KeyMsg:
		if m.err != nil {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.state == enterDeviceName {
				return m.startSession(m.deviceNameInput.Value())
			}
		case tea.KeyRunes:
			if m.state == chooseRole {
				if role, ok := core.ParseRole(msg.String()); ok {
					m.role = role
					m.state = enterDeviceName
					m.deviceNameInput.SetValue("")
					m.deviceNameInput.Focus()
					return m, textinput.Blink
				}
			}
		}
	case error:
		m.err = msg
		return m, nil
	}

	if m.state == enterDeviceName {
		m.deviceNameInput, cmd = m.deviceNameInput.Update(msg)
	}
	return m, cmd
}

func (m *InitialModel) startSession(name string) (tea.Model, tea.Cmd) {
	name = util.SanitizeDeviceName(name)
	mainModel := NewModel(ModelOptions{
		Config:     m.config,
		Role:       m.role,
		DeviceName: name,
		Log:        m.log,
		Scope:      m.scope,
		Program:    m.program,
	})
	return mainModel, mainModel.Init()
}

func (m *InitialModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to quit.", m.err)
	}

	switch m.state {
	case chooseRole:
		return "Should this device be the (H)ost that forms the link, or a (C)lient that joins it? (H/C)\n"
	case enterDeviceName:
		return fmt.Sprintf(
			"Enter a name for this %s device (or press Enter for a random one):\n%s\n\n(esc to quit)",
			strings.ToLower(m.role.String()),
			m.deviceNameInput.View(),
		)
	default:
		return ""
	}
}

func (m *InitialModel) SetProgram(p *tea.Program) {
	m.program = p
}

// StartInitialUI runs the console until the operator quits.
func StartInitialUI(cfg config.Config, log *zap.Logger, scope tally.Scope) error {
	initialModel := NewInitialModel(cfg, log, scope)
	p := tea.NewProgram(initialModel, tea.WithAltScreen())
	initialModel.SetProgram(p)

	_, err := p.Run()
	return err
}
