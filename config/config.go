package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spiffcs/firststep/internal/constants"
	"github.com/spiffcs/firststep/internal/identity"
)

// Config represents the application configuration
type Config struct {
	Provider *ProviderConfig `yaml:"provider,omitempty" json:"provider,omitempty"`
	Session  *SessionConfig  `yaml:"session,omitempty" json:"session,omitempty"`
	Emulator *EmulatorConfig `yaml:"emulator,omitempty" json:"emulator,omitempty"`
}

// ProviderConfig points the client at an identity provider
type ProviderConfig struct {
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	// Timeout is a Go duration string, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SessionConfig controls where the signed-in session is cached
type SessionConfig struct {
	CacheFile string `yaml:"cache_file,omitempty" json:"cache_file,omitempty"`
	// Persist turns the session cache off when false.
	Persist *bool `yaml:"persist,omitempty" json:"persist,omitempty"`
}

// EmulatorConfig sets the local emulator's listen address
type EmulatorConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port *int   `yaml:"port,omitempty" json:"port,omitempty"`
}

// Settings is the fully resolved configuration
type Settings struct {
	BaseURL  string
	TokenURL string
	Timeout  time.Duration

	CacheFile string
	Persist   bool

	EmulatorHost string
	EmulatorPort int
}

// EmulatorAddr returns host:port for the emulator.
func (s Settings) EmulatorAddr() string {
	return fmt.Sprintf("%s:%d", s.EmulatorHost, s.EmulatorPort)
}

// EmulatorEndpoints returns the identity and token base URLs served by the
// emulator, in the same path layout as the Google endpoints.
func (s Settings) EmulatorEndpoints() (baseURL, tokenURL string) {
	root := "http://" + s.EmulatorAddr()
	return root + "/identitytoolkit.googleapis.com", root + "/securetoken.googleapis.com"
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	cacheFile, err := identity.DefaultCachePath()
	if err != nil {
		cacheFile = filepath.Join("."+constants.AppName, "session.json")
	}
	return Settings{
		BaseURL:      identity.DefaultBaseURL,
		TokenURL:     identity.DefaultTokenURL,
		Timeout:      identity.DefaultTimeout,
		CacheFile:    cacheFile,
		Persist:      true,
		EmulatorHost: constants.EmulatorHost,
		EmulatorPort: constants.EmulatorPort,
	}
}

// Settings returns settings with user overrides merged with defaults
func (c *Config) Settings() (Settings, error) {
	s := DefaultSettings()

	if p := c.Provider; p != nil {
		if p.BaseURL != "" {
			s.BaseURL = p.BaseURL
		}
		if p.TokenURL != "" {
			s.TokenURL = p.TokenURL
		}
		if p.Timeout != "" {
			d, err := time.ParseDuration(p.Timeout)
			if err != nil {
				return s, fmt.Errorf("invalid provider.timeout %q: %w", p.Timeout, err)
			}
			if d < 0 {
				return s, fmt.Errorf("invalid provider.timeout %q: must not be negative", p.Timeout)
			}
			s.Timeout = d
		}
	}

	if sess := c.Session; sess != nil {
		if sess.CacheFile != "" {
			s.CacheFile = sess.CacheFile
		}
		if sess.Persist != nil {
			s.Persist = *sess.Persist
		}
	}

	if e := c.Emulator; e != nil {
		if e.Host != "" {
			s.EmulatorHost = e.Host
		}
		if e.Port != nil {
			if *e.Port <= 0 || *e.Port > 65535 {
				return s, fmt.Errorf("invalid emulator.port %d", *e.Port)
			}
			s.EmulatorPort = *e.Port
		}
	}

	return s, nil
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "." + constants.AppName
	}
	return filepath.Join(configDir, constants.AppName)
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LocalConfigPath returns the path to the local config file in the current directory
func LocalConfigPath() string {
	return "." + constants.AppName + ".yaml"
}

// EnvFilePath is the optional dotenv file read for secrets.
const EnvFilePath = ".env"

// ConfigFileExists returns true if the config file exists on disk
func ConfigFileExists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// Load loads the configuration from disk.
// It first loads the global config from XDG config directory, then merges
// any local .firststep.yaml config on top (local values take precedence).
func Load() (*Config, error) {
	cfg := &Config{}

	globalPath := ConfigPath()
	if _, err := os.Stat(globalPath); err == nil {
		if err := readInto(globalPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load global config file: %w", err)
		}
	}

	localPath := LocalConfigPath()
	if _, err := os.Stat(localPath); err == nil {
		var localCfg Config
		if err := readInto(localPath, &localCfg); err != nil {
			return nil, fmt.Errorf("failed to load local config file: %w", err)
		}
		cfg = mergeConfig(cfg, &localCfg)
	}

	return cfg, nil
}

// LoadGlobal loads only the global config file. Commands that write the
// global file start from it so local overrides are not copied into it.
func LoadGlobal() (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(ConfigPath()); err != nil {
		return cfg, nil
	}
	if err := readInto(ConfigPath(), cfg); err != nil {
		return nil, fmt.Errorf("failed to load global config file: %w", err)
	}
	return cfg, nil
}

func readInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadEnv loads secrets from a .env file in the current directory if one
// exists. Variables already set in the environment win.
func LoadEnv() error {
	if err := godotenv.Load(EnvFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", EnvFilePath, err)
	}
	return nil
}

// mergeConfig merges local config on top of global config.
// Local values take precedence; unset local values preserve global values.
func mergeConfig(global, local *Config) *Config {
	return &Config{
		Provider: mergeProvider(global.Provider, local.Provider),
		Session:  mergeSession(global.Session, local.Session),
		Emulator: mergeEmulator(global.Emulator, local.Emulator),
	}
}

func mergeProvider(global, local *ProviderConfig) *ProviderConfig {
	if global == nil && local == nil {
		return nil
	}
	result := &ProviderConfig{}
	if global != nil {
		*result = *global
	}
	if local != nil {
		if local.BaseURL != "" {
			result.BaseURL = local.BaseURL
		}
		if local.TokenURL != "" {
			result.TokenURL = local.TokenURL
		}
		if local.Timeout != "" {
			result.Timeout = local.Timeout
		}
	}
	return result
}

func mergeSession(global, local *SessionConfig) *SessionConfig {
	if global == nil && local == nil {
		return nil
	}
	result := &SessionConfig{}
	if global != nil {
		*result = *global
	}
	if local != nil {
		if local.CacheFile != "" {
			result.CacheFile = local.CacheFile
		}
		if local.Persist != nil {
			result.Persist = local.Persist
		}
	}
	return result
}

func mergeEmulator(global, local *EmulatorConfig) *EmulatorConfig {
	if global == nil && local == nil {
		return nil
	}
	result := &EmulatorConfig{}
	if global != nil {
		*result = *global
	}
	if local != nil {
		if local.Host != "" {
			result.Host = local.Host
		}
		if local.Port != nil {
			result.Port = local.Port
		}
	}
	return result
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return SaveTo(ConfigPath(), string(data))
}

// SettableKeys lists the keys accepted by Set.
var SettableKeys = []string{
	"provider.base_url",
	"provider.token_url",
	"provider.timeout",
	"session.cache_file",
	"session.persist",
	"emulator.host",
	"emulator.port",
}

// Set assigns a single value by its dotted YAML key. The result is
// validated before c is modified.
func (c *Config) Set(key, value string) error {
	next := mergeConfig(c, &Config{})

	switch key {
	case "provider.base_url", "provider.token_url", "provider.timeout":
		if next.Provider == nil {
			next.Provider = &ProviderConfig{}
		}
		switch key {
		case "provider.base_url":
			next.Provider.BaseURL = value
		case "provider.token_url":
			next.Provider.TokenURL = value
		default:
			next.Provider.Timeout = value
		}
	case "session.cache_file":
		if next.Session == nil {
			next.Session = &SessionConfig{}
		}
		next.Session.CacheFile = value
	case "session.persist":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q (must be true or false)", key, value)
		}
		if next.Session == nil {
			next.Session = &SessionConfig{}
		}
		next.Session.Persist = &b
	case "emulator.host":
		if next.Emulator == nil {
			next.Emulator = &EmulatorConfig{}
		}
		next.Emulator.Host = value
	case "emulator.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q (must be a number)", key, value)
		}
		if next.Emulator == nil {
			next.Emulator = &EmulatorConfig{}
		}
		next.Emulator.Port = &port
	case "api_key", "session_key":
		return fmt.Errorf("secrets cannot be stored in config files. Set the %s or %s environment variable instead",
			constants.EnvAPIKey, constants.EnvSessionKey)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	if _, err := next.Settings(); err != nil {
		return err
	}
	*c = *next
	return nil
}

// APIKey returns the identity provider API key from the environment.
// Secrets are only read from the environment, never from config files.
func (c *Config) APIKey() string {
	return os.Getenv(constants.EnvAPIKey)
}

// SessionKey returns the secret sealing the session cache, or "".
func (c *Config) SessionKey() string {
	return os.Getenv(constants.EnvSessionKey)
}

// DefaultConfig returns a fully populated config with all default values.
// This is useful for generating a complete config file template.
func DefaultConfig() *Config {
	s := DefaultSettings()
	port := s.EmulatorPort
	persist := s.Persist

	return &Config{
		Provider: &ProviderConfig{
			BaseURL:  s.BaseURL,
			TokenURL: s.TokenURL,
			Timeout:  s.Timeout.String(),
		},
		Session: &SessionConfig{
			CacheFile: s.CacheFile,
			Persist:   &persist,
		},
		Emulator: &EmulatorConfig{
			Host: s.EmulatorHost,
			Port: &port,
		},
	}
}

// ToYAML returns the config as a YAML string
func (c *Config) ToYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigPathInfo contains information about config file paths
type ConfigPathInfo struct {
	GlobalPath   string
	GlobalExists bool
	LocalPath    string
	LocalExists  bool
}

// GetConfigPaths returns path info for both global and local configs
func GetConfigPaths() ConfigPathInfo {
	globalPath := ConfigPath()
	localPath := LocalConfigPath()

	absLocalPath, err := filepath.Abs(localPath)
	if err != nil {
		absLocalPath = localPath
	}

	_, globalErr := os.Stat(globalPath)
	_, localErr := os.Stat(localPath)

	return ConfigPathInfo{
		GlobalPath:   globalPath,
		GlobalExists: globalErr == nil,
		LocalPath:    absLocalPath,
		LocalExists:  localErr == nil,
	}
}

// MinimalConfig returns a minimal config template with comments
func MinimalConfig() string {
	return `# FirstStep configuration file
# See: firststep config defaults  (for all available options)
#
# Secrets are read from the environment (or a .env file), never from here:
#   ` + constants.EnvAPIKey + `      identity provider API key
#   ` + constants.EnvSessionKey + `  seals the cached session (optional)

# Identity provider (optional, defaults to Google Identity Toolkit)
# provider:
#   base_url: http://127.0.0.1:` + strconv.Itoa(constants.EmulatorPort) + `/identitytoolkit.googleapis.com
#   token_url: http://127.0.0.1:` + strconv.Itoa(constants.EmulatorPort) + `/securetoken.googleapis.com
#   timeout: 30s

# Session cache (optional)
# session:
#   persist: true

# Local emulator (optional)
# emulator:
#   host: ` + constants.EmulatorHost + `
#   port: ` + strconv.Itoa(constants.EmulatorPort) + `
`
}

// SaveTo writes content to a specific path, creating directories as needed
func SaveTo(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}
