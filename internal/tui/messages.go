package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/spiffcs/firststep/internal/session"
	"github.com/spiffcs/firststep/internal/store"
)

// rootMsg carries the screen the coordinator just mounted.
type rootMsg struct {
	screen session.Screen
}

// screenMsg wraps a message produced by a screen's subscriptions. The owner
// id lets a replaced screen's late messages be dropped.
type screenMsg struct {
	owner int
	msg   any
}

// closedMsg reports that a subscription was closed.
type closedMsg struct {
	owner int
}

// clearStatusMsg clears the status line if no newer status replaced it.
type clearStatusMsg struct {
	owner int
	seq   int
}

// waitFor returns a command that delivers the next value from sub as a
// screenMsg. Callers re-issue it after each delivery.
func waitFor[T any](owner int, sub *store.Subscription[T]) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-sub.C()
		if !ok {
			return closedMsg{owner: owner}
		}
		return screenMsg{owner: owner, msg: v}
	}
}
