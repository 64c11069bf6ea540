package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/constants"
	"github.com/spiffcs/firststep/internal/format"
	"github.com/spiffcs/firststep/internal/store"
)

// authMode toggles the form between signing in and registering.
type authMode int

const (
	modeLogin authMode = iota
	modeRegister
)

const (
	fieldEmail = iota
	fieldPassword
	fieldRepeat
)

// AuthModel is the sign-in / registration screen. It dispatches auth actions
// and renders the store's loading, error and event streams.
type AuthModel struct {
	id    int
	store *auth.Store

	events  *store.Subscription[auth.Event]
	loading *store.Subscription[bool]
	errs    *store.Subscription[*store.AppError]

	mode    authMode
	inputs  []textinput.Model
	focus   int
	reveal  bool
	spinner spinner.Model

	busy       bool
	err        *store.AppError
	status     string
	statusKind statusKind
	statusSeq  int
	width      int
}

// NewAuthModel creates the auth screen and subscribes to s right away so no
// event is missed before the program calls Init.
func NewAuthModel(s *auth.Store) *AuthModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := &AuthModel{
		id:      nextScreenID(),
		store:   s,
		events:  s.Events(),
		loading: s.Loading().Subscribe(),
		errs:    s.Errors().Subscribe(),
		spinner: sp,
	}

	m.inputs = make([]textinput.Model, 3)
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 254
		in.Width = 32
		m.inputs[i] = in
	}
	m.inputs[fieldEmail].Placeholder = "you@example.com"
	m.inputs[fieldPassword].Placeholder = fmt.Sprintf("at least %d characters", constants.MinPasswordLength)
	m.inputs[fieldRepeat].Placeholder = "repeat password"
	m.setEcho()
	m.inputs[fieldEmail].Focus()

	return m
}

// Close detaches the screen from the auth store.
func (m *AuthModel) Close() {
	m.events.Close()
	m.loading.Close()
	m.errs.Close()
}

// Init starts the cursor, the spinner and the store subscriptions.
func (m *AuthModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitFor(m.id, m.events),
		waitFor(m.id, m.loading),
		waitFor(m.id, m.errs),
	)
}

// Update handles messages.
func (m *AuthModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case screenMsg:
		if msg.owner != m.id {
			return m, nil
		}
		switch v := msg.msg.(type) {
		case auth.Event:
			return m, tea.Batch(m.handleEvent(v), waitFor(m.id, m.events))
		case bool:
			m.busy = v
			return m, waitFor(m.id, m.loading)
		case *store.AppError:
			m.err = v
			return m, waitFor(m.id, m.errs)
		}
		return m, nil

	case closedMsg:
		return m, nil

	case clearStatusMsg:
		if msg.owner == m.id && msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *AuthModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		if m.mode == modeLogin {
			m.mode = modeRegister
		} else {
			m.mode = modeLogin
		}
		if m.focus >= m.fieldCount() {
			m.setFocus(fieldEmail)
		}
		return m, nil

	case "down":
		m.setFocus((m.focus + 1) % m.fieldCount())
		return m, nil

	case "up", "shift+tab":
		m.setFocus((m.focus + m.fieldCount() - 1) % m.fieldCount())
		return m, nil

	case "ctrl+r":
		m.reveal = !m.reveal
		m.setEcho()
		return m, nil

	case "enter":
		return m, m.submit()

	case "ctrl+f":
		return m, m.forgotPassword()

	case "ctrl+e":
		return m, m.resendVerification()

	case "ctrl+t":
		if !m.busy && m.err.CanRetry() {
			m.store.Retry()
		}
		return m, nil

	case "esc":
		if m.err != nil {
			m.store.DismissError()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *AuthModel) fieldCount() int {
	if m.mode == modeRegister {
		return 3
	}
	return 2
}

func (m *AuthModel) setFocus(field int) {
	m.inputs[m.focus].Blur()
	m.focus = field
	m.inputs[m.focus].Focus()
}

func (m *AuthModel) setEcho() {
	mode := textinput.EchoPassword
	if m.reveal {
		mode = textinput.EchoNormal
	}
	m.inputs[fieldPassword].EchoMode = mode
	m.inputs[fieldRepeat].EchoMode = mode
}

func (m *AuthModel) email() string {
	return strings.TrimSpace(m.inputs[fieldEmail].Value())
}

// submit signs in or registers depending on the mode. Input problems the
// provider would reject anyway are reported locally without a dispatch.
func (m *AuthModel) submit() tea.Cmd {
	if m.busy {
		return nil
	}
	email := m.email()
	password := m.inputs[fieldPassword].Value()
	if email == "" {
		return m.setStatus(statusError, "Enter your email address.")
	}
	if password == "" {
		return m.setStatus(statusError, "Enter your password.")
	}

	if m.mode == modeLogin {
		m.store.Dispatch(auth.SignIn{Email: email, Password: password})
		return nil
	}

	if password != m.inputs[fieldRepeat].Value() {
		return m.setStatus(statusError, "Passwords do not match.")
	}
	m.store.Dispatch(auth.CreateAccount{Email: email, Password: password})
	return nil
}

func (m *AuthModel) forgotPassword() tea.Cmd {
	if m.busy {
		return nil
	}
	email := m.email()
	if email == "" {
		return m.setStatus(statusError, "Enter your email address to reset the password.")
	}
	m.store.Dispatch(auth.SendPasswordReset{Email: email})
	return nil
}

func (m *AuthModel) resendVerification() tea.Cmd {
	if m.busy {
		return nil
	}
	email := m.email()
	password := m.inputs[fieldPassword].Value()
	if email == "" || password == "" {
		return m.setStatus(statusError, "Enter your email and password to resend the verification email.")
	}
	m.store.Dispatch(auth.ResendVerification{Email: email, Password: password})
	return nil
}

func (m *AuthModel) handleEvent(e auth.Event) tea.Cmd {
	switch e {
	case auth.AccountCreated:
		m.mode = modeLogin
		m.inputs[fieldRepeat].Reset()
		if m.focus == fieldRepeat {
			m.setFocus(fieldPassword)
		}
		return m.setStatus(statusOK, fmt.Sprintf("Account created. Check %s for a verification link, then sign in.", m.email()))
	case auth.NotVerified:
		return m.setStatus(statusError, "Email not verified. Follow the link we sent, or press ctrl+e to resend it.")
	case auth.ResetLinkSent:
		return m.setStatus(statusOK, fmt.Sprintf("Password reset link sent to %s.", m.email()))
	case auth.VerificationSent:
		return m.setStatus(statusOK, "Verification email sent.")
	case auth.EmailVerified:
		return m.setStatus(statusOK, "Signed in.")
	}
	return nil
}

func (m *AuthModel) setStatus(kind statusKind, text string) tea.Cmd {
	m.statusSeq++
	m.status = text
	m.statusKind = kind
	return clearStatusAfter(m.id, m.statusSeq, constants.StatusClearDelay)
}

// View renders the form.
func (m *AuthModel) View() string {
	var b strings.Builder
	width := m.contentWidth()

	b.WriteString("\n  " + titleStyle.Render("FirstStep") + "\n\n")

	login, register := inactiveTabStyle.Render("Sign in"), inactiveTabStyle.Render("Register")
	if m.mode == modeLogin {
		login = activeTabStyle.Render("Sign in")
	} else {
		register = activeTabStyle.Render("Register")
	}
	b.WriteString("  " + login + "   " + register + "\n\n")

	labels := []string{"Email", "Password", "Repeat"}
	for i := 0; i < m.fieldCount(); i++ {
		style := labelStyle
		if i == m.focus {
			style = focusedLabelStyle
		}
		b.WriteString("  " + style.Render(format.PadRight(labels[i], 10)) + m.inputs[i].View() + "\n")
	}
	b.WriteString("\n")

	if m.busy {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), messageStyle.Render("Please wait...")))
	}

	if m.err != nil {
		banner := fmt.Sprintf("%s %s", iconError, errorStyle.Render(m.err.Message))
		if m.err.CanRetry() {
			banner += messageStyle.Render("   ctrl+t retry · esc dismiss")
		} else {
			banner += messageStyle.Render("   esc dismiss")
		}
		b.WriteString(indent(errorBannerStyle.Render(banner)) + "\n")
	}

	if m.status != "" {
		for i, line := range format.Wrap(m.status, width-2) {
			prefix := statusIcon(m.statusKind)
			if i > 0 {
				prefix = " "
			}
			b.WriteString(fmt.Sprintf("  %s %s\n", prefix, messageStyle.Render(line)))
		}
	}

	help := "enter submit · tab sign in/register · ctrl+r show password · ctrl+f forgot password · ctrl+e resend verification · ctrl+c quit"
	b.WriteString(footerStyle.Render("  "+strings.Join(format.Wrap(help, width), "\n  ")) + "\n")

	return b.String()
}

func (m *AuthModel) contentWidth() int {
	w := constants.MaxFormWidth
	if m.width > 0 && m.width-4 < w {
		w = m.width - 4
	}
	if w < 20 {
		w = 20
	}
	return w
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = "  " + lines[i]
	}
	return strings.Join(lines, "\n")
}

func clearStatusAfter(owner, seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearStatusMsg{owner: owner, seq: seq}
	})
}
