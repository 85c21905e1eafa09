package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.educhat/config.toml.
type Config struct {
	// ServerURL is the websocket endpoint of the chat backend.
	ServerURL string `toml:"server_url"`
	// APIBaseURL is the REST base URL for the conversation/message endpoints.
	APIBaseURL string `toml:"api_base_url"`
	// Token is the JWT used for both transports. TokenFile takes precedence
	// when set, so the token can live outside the config file.
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`

	// Reconnect policy.
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`

	HeartbeatInterval Duration `toml:"heartbeat_interval"`

	// Ephemeral-signal tuning.
	TypingTTL        Duration `toml:"typing_ttl"`
	TypingIdle       Duration `toml:"typing_idle"`
	PresenceDebounce Duration `toml:"presence_debounce"`

	// History page size for the message fetch.
	PageSize int `toml:"page_size"`

	// DefaultProfile is used when no --profile flag is given.
	DefaultProfile string `toml:"default_profile"`
}

// Duration wraps time.Duration with TOML text (un)marshalling, so the config
// reads "3s" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalText implements toml text unmarshalling.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements toml text marshalling.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a config with the documented defaults. Server endpoints are
// left empty and must come from the config file.
func Default() *Config {
	return &Config{
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   Duration(3 * time.Second),
		HeartbeatInterval:    Duration(25 * time.Second),
		TypingTTL:            Duration(3 * time.Second),
		TypingIdle:           Duration(2 * time.Second),
		PresenceDebounce:     Duration(500 * time.Millisecond),
		PageSize:             50,
	}
}

// Load reads config from the given path, layered over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ResolveToken returns the auth token, preferring TokenFile over the inline
// value. The file content is trimmed of trailing whitespace.
func (c *Config) ResolveToken() (string, error) {
	if c.TokenFile != "" {
		data, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return c.Token, nil
}
