package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/spiffcs/firststep/internal/auth"
)

// HomeModel is shown once a verified user is signed in.
type HomeModel struct {
	email  string
	logout func()
}

// NewHomeModel creates the home screen for user. logout returns to the auth screen.
func NewHomeModel(user *auth.User, logout func()) *HomeModel {
	m := &HomeModel{logout: logout}
	if user != nil {
		m.email = user.Email
	}
	return m
}

// Close is a no-op; the home screen holds no subscriptions.
func (m *HomeModel) Close() {}

func (m *HomeModel) Init() tea.Cmd {
	return nil
}

func (m *HomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "o", "ctrl+o":
			if m.logout != nil {
				m.logout()
			}
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *HomeModel) View() string {
	var b strings.Builder
	b.WriteString("\n  " + titleStyle.Render("FirstStep") + "\n\n")

	who := "an unknown account"
	if m.email != "" {
		who = userStyle.Render(m.email)
	}
	b.WriteString(fmt.Sprintf("  %s Signed in as %s\n", iconOK, who))
	b.WriteString(footerStyle.Render("  o sign out · q quit") + "\n")
	return b.String()
}
