package tui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/devicelink/internal/domain"
)

// Controller is the part of authstate.Machine the UI drives.
type Controller interface {
	State() domain.AuthState
	Connect(ctx context.Context) error
	CheckValidity(ctx context.Context) error
	Disconnect() error
	Cancel()
}

// Machine is a Controller that also publishes state changes.
type Machine interface {
	Controller
	Subscribe(fn func(domain.AuthState)) func()
}

// StateMsg carries a state published by the machine.
// It is exported so that tests can inject it directly into AuthModel.Update.
type StateMsg struct {
	State domain.AuthState
}

// DeviceCodeMsg is sent when a new device code was issued.
type DeviceCodeMsg struct {
	Session domain.DeviceFlowSession
}

// actionResultMsg is sent when a machine call made from a key press returns.
type actionResultMsg struct {
	action string
	err    error
}

// copiedMsg is sent after the user code was put on the clipboard.
type copiedMsg struct {
	err error
}

const checkTimeout = 30 * time.Second

// AuthModel is the root Bubbletea model for devicelink.
// Every call into the Controller runs inside a tea.Cmd, so state
// notifications sent back through the program never block Update.
type AuthModel struct {
	ctrl    Controller
	state   domain.AuthState
	spinner spinner.Model

	issuedAt      time.Time
	confirmAction string
	notice        string
	width         int

	// CopyToClipboard writes the user code. Defaults to the system clipboard.
	CopyToClipboard func(string) error
	// AutoCopy copies each new user code as soon as it is issued.
	AutoCopy bool
	// Now is used for the code expiry countdown.
	Now func() time.Time
}

// NewAuthModel creates the root model showing ctrl's current state.
func NewAuthModel(ctrl Controller) AuthModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return AuthModel{
		ctrl:            ctrl,
		state:           ctrl.State(),
		spinner:         s,
		CopyToClipboard: clipboard.WriteAll,
		Now:             time.Now,
	}
}

// Init validates the stored token and starts the spinner.
func (m AuthModel) Init() tea.Cmd {
	return tea.Batch(m.checkValidity(), m.spinner.Tick)
}

func (m AuthModel) connect() tea.Cmd {
	return func() tea.Msg {
		err := m.ctrl.Connect(context.Background())
		return actionResultMsg{action: "connect", err: err}
	}
}

func (m AuthModel) cancel() tea.Cmd {
	return func() tea.Msg {
		m.ctrl.Cancel()
		return actionResultMsg{action: "cancel"}
	}
}

func (m AuthModel) disconnect() tea.Cmd {
	return func() tea.Msg {
		err := m.ctrl.Disconnect()
		return actionResultMsg{action: "disconnect", err: err}
	}
}

func (m AuthModel) checkValidity() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		err := m.ctrl.CheckValidity(ctx)
		return actionResultMsg{action: "check", err: err}
	}
}

func (m AuthModel) copyCode(code string) tea.Cmd {
	copyFn := m.CopyToClipboard
	return func() tea.Msg {
		return copiedMsg{err: copyFn(code)}
	}
}

// State returns the state currently shown.
func (m AuthModel) State() domain.AuthState {
	return m.state
}

// Update handles all incoming messages and key events.
func (m AuthModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StateMsg:
		prev := m.state
		m.state = msg.State
		if msg.State.Session != nil && (prev.Session == nil || prev.Session.DeviceCode != msg.State.Session.DeviceCode) {
			m.issuedAt = m.Now()
		}
		if msg.State.Status != domain.StatusConnected {
			m.confirmAction = ""
		}
		if msg.State.Status != prev.Status {
			m.notice = ""
		}

	case DeviceCodeMsg:
		if m.AutoCopy && msg.Session.UserCode != "" {
			return m, m.copyCode(msg.Session.UserCode)
		}

	case copiedMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Could not copy the code: %v", msg.err)
		} else {
			m.notice = "Code copied to clipboard"
		}

	case actionResultMsg:
		// connect and check failures are already part of the published state.
		if msg.action == "disconnect" && msg.err != nil {
			m.notice = fmt.Sprintf("Disconnect failed: %v", msg.err)
		}

	case tea.KeyMsg:
		if m.confirmAction != "" {
			switch msg.String() {
			case "y":
				m.confirmAction = ""
				return m, m.disconnect()
			case "q", "ctrl+c":
				return m, tea.Quit
			default:
				m.confirmAction = ""
				return m, nil
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		switch m.state.Status {
		case domain.StatusDisconnected, domain.StatusInvalid:
			return m.updateDisconnected(msg)
		case domain.StatusConnecting:
			return m.updateConnecting(msg)
		case domain.StatusConnected:
			return m.updateConnected(msg)
		}
	}
	return m, nil
}

func (m AuthModel) updateDisconnected(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c", "enter":
		m.notice = ""
		return m, m.connect()
	}
	return m, nil
}

func (m AuthModel) updateConnecting(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "x", "esc":
		return m, m.cancel()
	case "y":
		if m.state.Session != nil && m.state.Session.UserCode != "" {
			return m, m.copyCode(m.state.Session.UserCode)
		}
	}
	return m, nil
}

func (m AuthModel) updateConnected(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "d":
		m.confirmAction = "disconnect"
	case "r":
		return m, m.checkValidity()
	}
	return m, nil
}

// View renders the full TUI.
func (m AuthModel) View() string {
	header := titleStyle.Render(" devicelink | GitHub") + "\n"
	separator := "────────────────────────────────────────────────────────────\n"
	statusBar := fmt.Sprintf(" %s %s\n", statusIcon(m.state.Status), statusLabel(m.state.Status))

	var body string
	switch m.state.Status {
	case domain.StatusConnecting:
		body = m.renderConnecting()
	case domain.StatusConnected:
		body = m.renderConnected()
	case domain.StatusDisconnected, domain.StatusInvalid:
		body = m.renderDisconnected()
	default:
		body = fmt.Sprintf("\n %s Checking stored credentials...\n\n", m.spinner.View())
	}

	footer := m.footer()
	if m.notice != "" {
		footer = " " + noticeStyle.Render(m.notice) + "\n" + footer
	}
	return header + separator + statusBar + separator + body + separator + footer
}

func (m AuthModel) renderConnecting() string {
	s := m.state.Session
	if s == nil || s.UserCode == "" {
		return fmt.Sprintf("\n %s Requesting a device code...\n\n", m.spinner.View())
	}
	remaining := ""
	if lifetime := s.Lifetime(); lifetime > 0 && !m.issuedAt.IsZero() {
		remaining = mutedStyle.Render(" (" + formatRemaining(lifetime-m.Now().Sub(m.issuedAt)) + ")")
	}
	return fmt.Sprintf(
		"\n Visit:  %s\n"+
			" Code:   %s%s\n\n"+
			" %s Waiting for authorization...\n\n",
		s.VerificationURI, codeStyle.Render(s.UserCode), remaining, m.spinner.View())
}

func (m AuthModel) renderConnected() string {
	u := m.state.User
	if u == nil {
		return "\n Connected.\n\n"
	}
	body := fmt.Sprintf("\n Signed in as %s (@%s)\n", truncate(u.DisplayName(), 40), u.Login)
	if u.ProfileURL != "" {
		body += " " + mutedStyle.Render(u.ProfileURL) + "\n"
	}
	return body + "\n"
}

func (m AuthModel) renderDisconnected() string {
	body := "\n No GitHub account is linked.\n"
	switch {
	case m.state.Status == domain.StatusInvalid:
		body = "\n The linked GitHub token was rejected.\n"
	case m.state.Offline:
		body = "\n GitHub is unreachable. The linked token was kept.\n"
	}
	if m.state.Err != "" {
		body += "\n " + errStyle.Render(m.state.Err) + "\n"
	}
	return body + "\n"
}

func (m AuthModel) footer() string {
	if m.confirmAction == "disconnect" {
		login := ""
		if m.state.User != nil {
			login = " @" + m.state.User.Login
		}
		return fmt.Sprintf(" Disconnect%s and forget the token? [y/N] \n", login)
	}
	switch m.state.Status {
	case domain.StatusConnecting:
		return " y: copy code   x: cancel   q: quit\n"
	case domain.StatusConnected:
		return " d: disconnect   r: re-check   q: quit\n"
	case domain.StatusDisconnected, domain.StatusInvalid:
		return " c: connect   q: quit\n"
	default:
		return " q: quit\n"
	}
}

// Relay forwards device-code notifications to a running program.
// It is created before the program so it can be handed to the machine.
type Relay struct {
	mu sync.Mutex
	p  *tea.Program
}

// Attach sets the program that receives notifications.
func (r *Relay) Attach(p *tea.Program) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

// DeviceCode implements authstate.Notifier.
func (r *Relay) DeviceCode(session domain.DeviceFlowSession) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(DeviceCodeMsg{Session: session})
	}
}

// Run starts the Bubbletea program and feeds it machine state until the user quits.
func Run(machine Machine, relay *Relay, autoCopy bool) error {
	model := NewAuthModel(machine)
	model.AutoCopy = autoCopy
	p := tea.NewProgram(model, tea.WithAltScreen())
	if relay != nil {
		relay.Attach(p)
		defer relay.Attach(nil)
	}
	unsubscribe := machine.Subscribe(func(s domain.AuthState) {
		p.Send(StateMsg{State: s})
	})
	defer unsubscribe()
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}
