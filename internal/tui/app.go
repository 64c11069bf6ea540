package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/spiffcs/firststep/internal/session"
	"github.com/spiffcs/firststep/internal/store"
)

// App is the root Bubble Tea model. It renders the screen the router holds
// and forwards messages to it.
type App struct {
	router  *Router
	roots   *store.Subscription[session.Screen]
	current Screen
	width   int
	height  int
}

// routerClosedMsg signals that the router was closed.
type routerClosedMsg struct{}

// NewApp creates the root model.
func NewApp(router *Router) *App {
	return &App{router: router}
}

// Init subscribes to root changes.
func (a *App) Init() tea.Cmd {
	a.roots = a.router.subscribe()
	return waitForRoot(a.roots)
}

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, a.quit()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case rootMsg:
		screen, _ := msg.screen.(Screen)
		a.current = screen
		cmds := []tea.Cmd{waitForRoot(a.roots)}
		if screen != nil {
			cmds = append(cmds, screen.Init())
			if a.width > 0 {
				size := tea.WindowSizeMsg{Width: a.width, Height: a.height}
				cmds = append(cmds, func() tea.Msg { return size })
			}
		}
		return a, tea.Batch(cmds...)

	case routerClosedMsg:
		return a, tea.Quit
	}

	if a.current == nil {
		return a, nil
	}
	m, cmd := a.current.Update(msg)
	if screen, ok := m.(Screen); ok {
		a.current = screen
	}
	return a, cmd
}

// View renders the current screen.
func (a *App) View() string {
	if a.current == nil {
		return messageStyle.Render("\n  Loading...") + "\n"
	}
	return a.current.View()
}

func (a *App) quit() tea.Cmd {
	if a.roots != nil {
		a.roots.Close()
	}
	return tea.Quit
}

// waitForRoot creates a command that waits for the next root screen.
func waitForRoot(roots *store.Subscription[session.Screen]) tea.Cmd {
	return func() tea.Msg {
		screen, ok := <-roots.C()
		if !ok {
			return routerClosedMsg{}
		}
		return rootMsg{screen: screen}
	}
}
