package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSignedIn is returned by calls that need a session when there is none.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrInvalidCredentials covers malformed input and rejected credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// APIError is an error response from the identity provider.
type APIError struct {
	StatusCode int
	// Message is the provider's error code, e.g. EMAIL_EXISTS. Some codes
	// carry a detail after a colon.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider: %s (status %d)", e.Message, e.StatusCode)
}

// Code returns the message without any trailing detail.
func (e *APIError) Code() string {
	code, _, _ := strings.Cut(e.Message, ":")
	return strings.TrimSpace(code)
}

// Is reports rejected credentials as ErrInvalidCredentials.
func (e *APIError) Is(target error) bool {
	if target != ErrInvalidCredentials {
		return false
	}
	switch e.Code() {
	case "INVALID_PASSWORD", "EMAIL_NOT_FOUND", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "WEAK_PASSWORD", "MISSING_PASSWORD":
		return true
	}
	return false
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
