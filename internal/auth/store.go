// Package auth specializes the generic store for the email/password flow.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/spiffcs/firststep/internal/log"
	"github.com/spiffcs/firststep/internal/store"
)

// Action is a user intent handled by the auth store.
type Action interface {
	isAction()
}

type CreateAccount struct {
	Email    string
	Password string
}

type SignIn struct {
	Email    string
	Password string
}

type SendPasswordReset struct {
	Email string
}

type SignOut struct{}

// ResendVerification signs in long enough to mail a new verification link.
type ResendVerification struct {
	Email    string
	Password string
}

func (CreateAccount) isAction()      {}
func (SignIn) isAction()             {}
func (SendPasswordReset) isAction()  {}
func (SignOut) isAction()            {}
func (ResendVerification) isAction() {}

// Event is an outcome published by the auth store.
type Event int

const (
	AccountCreated Event = iota + 1
	EmailVerified
	NotVerified
	ResetLinkSent
	VerificationSent
)

func (e Event) String() string {
	switch e {
	case AccountCreated:
		return "accountCreated"
	case EmailVerified:
		return "emailVerified"
	case NotVerified:
		return "notVerified"
	case ResetLinkSent:
		return "resetLinkSent"
	case VerificationSent:
		return "verificationSent"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Store is the auth store.
type Store = store.Store[Event, Action]

// NewStore creates an auth store backed by p.
func NewStore(p Provider, opts ...store.Option) *Store {
	h := &handler{provider: p}
	opts = append([]store.Option{store.WithName("auth")}, opts...)
	return store.New[Event, Action](h, opts...)
}

type handler struct {
	provider Provider
}

func (h *handler) Handle(_ context.Context, s *Store, action Action) {
	switch a := action.(type) {
	case CreateAccount:
		// Once the account exists a retry only resends the verification email.
		registered := false
		create := func(ctx context.Context) error {
			err := h.provider.CreateAccount(ctx, a.Email, a.Password)
			if errors.Is(err, ErrVerificationNotSent) {
				registered = true
			}
			if err != nil {
				return err
			}
			s.Publish(AccountCreated)
			return nil
		}
		s.Call(create, store.WithRetry(func(ctx context.Context) error {
			if !registered {
				return create(ctx)
			}
			if err := h.provider.SendEmailVerification(ctx); err != nil {
				return err
			}
			s.Publish(AccountCreated)
			return nil
		}))
	case SignIn:
		s.Call(func(ctx context.Context) error {
			verified, err := h.provider.SignIn(ctx, a.Email, a.Password)
			if err != nil {
				return err
			}
			h.checkVerified(s, verified)
			return nil
		})
	case SendPasswordReset:
		s.Call(func(ctx context.Context) error {
			if err := h.provider.SendPasswordReset(ctx, a.Email); err != nil {
				return err
			}
			s.Publish(ResetLinkSent)
			return nil
		})
	case ResendVerification:
		s.Call(func(ctx context.Context) error {
			return h.resendVerification(ctx, s, a)
		})
	case SignOut:
		h.signOut()
	default:
		log.Warn("unhandled auth action", "action", fmt.Sprintf("%T", action))
	}
}

// checkVerified publishes EmailVerified, or forces a sign-out before
// publishing NotVerified so an unverified account never stays signed in.
func (h *handler) checkVerified(s *Store, verified bool) {
	if verified {
		s.Publish(EmailVerified)
		return
	}
	h.signOut()
	s.Publish(NotVerified)
}

func (h *handler) resendVerification(ctx context.Context, s *Store, a ResendVerification) error {
	verified, err := h.provider.SignIn(ctx, a.Email, a.Password)
	if err != nil {
		return err
	}
	if verified {
		s.Publish(EmailVerified)
		return nil
	}
	err = h.provider.SendEmailVerification(ctx)
	h.signOut()
	if err != nil {
		return err
	}
	s.Publish(VerificationSent)
	return nil
}

// signOut is best effort: failures are logged and never reach the error state.
func (h *handler) signOut() {
	if err := h.provider.SignOut(); err != nil {
		log.Warn("sign out failed", "error", err)
	}
}
