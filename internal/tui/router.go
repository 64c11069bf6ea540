package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/session"
	"github.com/spiffcs/firststep/internal/store"
)

// Screen is a top-level screen the app can display.
type Screen interface {
	tea.Model
	session.Screen
}

// Router holds the mounted root screen. The app renders whatever it holds.
type Router struct {
	root *store.Value[session.Screen]
}

var _ session.Router = (*Router)(nil)

// NewRouter creates a router with nothing mounted.
func NewRouter() *Router {
	return &Router{root: store.NewValue[session.Screen](nil)}
}

// SetRoot replaces the root screen.
func (r *Router) SetRoot(s session.Screen) {
	r.root.Set(s)
}

// Root returns the mounted screen, or nil.
func (r *Router) Root() session.Screen {
	return r.root.Get()
}

func (r *Router) subscribe() *store.Subscription[session.Screen] {
	return r.root.Subscribe()
}

// Close detaches the app.
func (r *Router) Close() {
	r.root.Close()
}

// Screens builds the TUI's screens for the session coordinator.
type Screens struct{}

var _ session.ScreenFactory = Screens{}

func (Screens) Auth(s *auth.Store) session.Screen {
	return NewAuthModel(s)
}

func (Screens) Home(user *auth.User, logout func()) session.Screen {
	return NewHomeModel(user, logout)
}

var screenIDs atomic.Int64

// nextScreenID hands out owner ids for screen subscriptions.
func nextScreenID() int {
	return int(screenIDs.Add(1))
}
