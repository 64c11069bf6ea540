// Package constants provides a centralized location for values shared
// across the firststep application.
package constants

import "time"

// AppName names the config and cache directories.
const AppName = "firststep"

// Environment variables holding secrets. Secrets are never read from
// config files.
const (
	// EnvAPIKey is the identity provider API key.
	EnvAPIKey = "FIRSTSTEP_API_KEY"

	// EnvSessionKey seals the cached session when set.
	EnvSessionKey = "FIRSTSTEP_SESSION_KEY"
)

// Credential rules checked before any network call.
const (
	// MinPasswordLength matches the provider's WEAK_PASSWORD threshold.
	MinPasswordLength = 6
)

// TUI display constants
const (
	// StatusClearDelay is how long a status line stays on screen.
	StatusClearDelay = 5 * time.Second

	// MaxFormWidth caps the width of the auth form.
	MaxFormWidth = 60

	// TruncationSuffix is appended to text cut to fit the terminal.
	TruncationSuffix = "..."
)

// Emulator defaults
const (
	// EmulatorHost is the default emulator bind address.
	EmulatorHost = "127.0.0.1"

	// EmulatorPort matches the Firebase Auth emulator's default port.
	EmulatorPort = 9099

	// EmulatorAPIKey is sent to the emulator when no API key is configured.
	// The emulator accepts any non-empty key.
	EmulatorAPIKey = "fake-api-key"
)
