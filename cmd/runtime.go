package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spiffcs/firststep/config"
	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/constants"
	"github.com/spiffcs/firststep/internal/identity"
	"github.com/spiffcs/firststep/internal/log"
	"github.com/spiffcs/firststep/internal/store"
)

// authRuntime bundles the configured provider client and the auth store built
// on top of it.
type authRuntime struct {
	cfg      *config.Config
	settings config.Settings
	client   *identity.Client
	store    *auth.Store
}

// initLogging routes logs to stderr, or discards them while the TUI owns
// the terminal.
func initLogging(opts *Options, useTUI bool) {
	if useTUI {
		log.Initialize(opts.Verbosity, io.Discard)
	} else {
		log.Initialize(opts.Verbosity, os.Stderr)
	}
}

// loadSettings reads .env, the config files and applies --emulator.
func loadSettings(opts *Options) (*config.Config, config.Settings, error) {
	if err := config.LoadEnv(); err != nil {
		log.Warn("ignoring .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, config.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, config.Settings{}, err
	}

	if opts.Emulator {
		settings.BaseURL, settings.TokenURL = settings.EmulatorEndpoints()
	}
	return cfg, settings, nil
}

// newRuntime builds the provider client and the auth store. Callers must
// call close.
func newRuntime(opts *Options) (*authRuntime, error) {
	cfg, settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	apiKey := cfg.APIKey()
	if apiKey == "" && opts.Emulator {
		apiKey = constants.EmulatorAPIKey
	}

	var cache *identity.Cache
	if settings.Persist {
		cache = identity.NewCache(settings.CacheFile, cfg.SessionKey())
	}

	client, err := identity.New(identity.Options{
		APIKey:   apiKey,
		BaseURL:  settings.BaseURL,
		TokenURL: settings.TokenURL,
		Timeout:  settings.Timeout,
		Cache:    cache,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("identity provider configured", "base_url", settings.BaseURL, "persist", settings.Persist)

	return &authRuntime{
		cfg:      cfg,
		settings: settings,
		client:   client,
		store:    auth.NewStore(client, store.WithLogger(log.Logger())),
	}, nil
}

func (rt *authRuntime) close() {
	rt.store.Close()
}
