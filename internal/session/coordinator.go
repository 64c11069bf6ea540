// Package session decides which top-level screen is mounted from the
// authentication state and the auth store's events.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/log"
	"github.com/spiffcs/firststep/internal/store"
)

// State is the coordinator's view of the session.
type State int

const (
	Unknown State = iota
	Unauthenticated
	AuthenticatedUnverified
	AuthenticatedVerified
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Unauthenticated:
		return "unauthenticated"
	case AuthenticatedUnverified:
		return "authenticated (unverified)"
	case AuthenticatedVerified:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Screen is a mounted top-level screen. Close detaches it from any store
// subscriptions it holds.
type Screen interface {
	Close()
}

// ScreenFactory builds the two top-level screens.
type ScreenFactory interface {
	Auth(s *auth.Store) Screen
	Home(user *auth.User, logout func()) Screen
}

// Router displays a root screen, replacing whatever was shown before.
type Router interface {
	SetRoot(Screen)
}

// Coordinator maps authentication state to the mounted root screen.
type Coordinator struct {
	store    *auth.Store
	provider auth.Provider
	router   Router
	screens  ScreenFactory
	log      *slog.Logger

	state *store.Value[State]

	mu      sync.Mutex
	current Screen
	events  *store.Subscription[auth.Event]
	done    chan struct{}
	start   sync.Once
}

// New creates a coordinator in the Unknown state. Nothing is mounted until Start.
func New(s *auth.Store, p auth.Provider, r Router, f ScreenFactory) *Coordinator {
	return &Coordinator{
		store:    s,
		provider: p,
		router:   r,
		screens:  f,
		log:      log.Logger().With("component", "session"),
		state:    store.NewValue(Unknown),
		done:     make(chan struct{}),
	}
}

// Start resolves the initial state from the provider's cached user, mounts
// the matching screen and begins following auth events. It makes no
// network call. Subsequent calls are no-ops.
func (c *Coordinator) Start() {
	c.start.Do(func() {
		c.mu.Lock()
		c.events = c.store.Events()
		user := c.provider.CurrentUser()
		if user != nil && user.EmailVerified {
			c.showHome(user)
		} else {
			c.showAuth()
		}
		c.mu.Unlock()

		go c.watch(c.events)
	})
}

// CurrentState returns the current session state.
func (c *Coordinator) CurrentState() State {
	return c.state.Get()
}

// States subscribes to state changes, starting with the current state.
func (c *Coordinator) States() *store.Subscription[State] {
	return c.state.Subscribe()
}

// Logout signs out and returns to the auth screen.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showAuth()
}

// Close stops following events and closes the mounted screen.
func (c *Coordinator) Close() {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	if events != nil {
		events.Close()
		<-c.done
	}

	c.mu.Lock()
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
	c.mu.Unlock()
	c.state.Close()
}

func (c *Coordinator) watch(events *store.Subscription[auth.Event]) {
	defer close(c.done)

	for ev := range events.C() {
		c.mu.Lock()
		switch ev {
		case auth.EmailVerified:
			c.showHome(c.provider.CurrentUser())
		case auth.NotVerified:
			// The store already signed out; the auth screen stays mounted.
			c.setState(AuthenticatedUnverified)
			c.setState(Unauthenticated)
		}
		c.mu.Unlock()
	}
}

// showAuth forces a sign-out before mounting the auth screen. Callers hold mu.
func (c *Coordinator) showAuth() {
	c.store.Dispatch(auth.SignOut{})
	c.setState(Unauthenticated)
	c.mount(c.screens.Auth(c.store))
}

// showHome mounts the home screen. Callers hold mu.
func (c *Coordinator) showHome(user *auth.User) {
	c.setState(AuthenticatedVerified)
	c.mount(c.screens.Home(user, c.Logout))
}

func (c *Coordinator) setState(s State) {
	c.log.Debug("session state", "from", c.state.Get().String(), "to", s.String())
	c.state.Set(s)
}

// mount replaces the root: the previous screen is closed first.
func (c *Coordinator) mount(s Screen) {
	if c.current != nil {
		c.current.Close()
	}
	c.current = s
	c.router.SetRoot(s)
}
