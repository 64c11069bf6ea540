package cmd

// Options holds the shared command-line options for the firststep CLI.
type Options struct {
	Verbosity int
	TUI       *bool // nil = auto-detect, true = force TUI, false = disable TUI

	// Emulator points the client at the local identity emulator instead of
	// the configured provider.
	Emulator bool

	// Password skips the interactive prompt. Prefer the prompt; flags end
	// up in shell history.
	Password string
}

// Option is a functional option for configuring Options.
type Option func(*Options)

// NewOptions creates a new Options with defaults and applies any provided options.
func NewOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithVerbosity sets the verbosity level.
func WithVerbosity(v int) Option {
	return func(o *Options) {
		o.Verbosity = v
	}
}

// WithTUI controls TUI mode (nil = auto-detect, true = force, false = disable).
func WithTUI(tui *bool) Option {
	return func(o *Options) {
		o.TUI = tui
	}
}

// WithEmulator targets the local emulator.
func WithEmulator(enabled bool) Option {
	return func(o *Options) {
		o.Emulator = enabled
	}
}

// WithPassword sets the password used instead of prompting.
func WithPassword(password string) Option {
	return func(o *Options) {
		o.Password = password
	}
}
