package auth

import (
	"context"
	"errors"
)

// ErrVerificationNotSent marks a CreateAccount that registered the account
// but failed to send the verification email.
var ErrVerificationNotSent = errors.New("verification email not sent")

// User is the identity provider's cached view of the signed-in account.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Provider is the identity backend the auth store drives. Implementations
// own their own timeouts and session caching.
type Provider interface {
	// CreateAccount registers a new account. Implementations may leave the
	// new account signed in. A failure after registration wraps
	// ErrVerificationNotSent.
	CreateAccount(ctx context.Context, email, password string) error
	// SignIn authenticates and reports whether the account's email is verified.
	SignIn(ctx context.Context, email, password string) (verified bool, err error)
	SendPasswordReset(ctx context.Context, email string) error
	// SendEmailVerification mails a verification link to the signed-in user.
	SendEmailVerification(ctx context.Context) error
	SignOut() error
	// CurrentUser returns the cached user, or nil. It never touches the network.
	CurrentUser() *User
}
