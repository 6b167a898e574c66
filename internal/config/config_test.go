package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfig_DefaultConfig(t *testing.T) {
	r := require.New(t)

	cfg := DefaultConfig()
	r.NoError(cfg.Validate())

	r.Equal(time.Second, cfg.Client.ReconnectBaseDelay)
	r.Equal(5*time.Second, cfg.Client.ReconnectMaxDelay)
	r.Equal(5, cfg.Client.ReconnectMaxAttempts)
	r.Equal(time.Second, cfg.Client.TokenPollInterval)
	r.Equal(500*time.Millisecond, cfg.Client.JoinSettleDelay)
	r.Equal(5*time.Second, cfg.Relay.AuthTimeout)
	r.Equal(100, cfg.Relay.RateLimit)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"missing relay url", func(c *Config) { c.Client.RelayURL = "" }},
		{"poll slower than a second", func(c *Config) { c.Client.TokenPollInterval = 2 * time.Second }},
		{"max delay below base", func(c *Config) { c.Client.ReconnectMaxDelay = 500 * time.Millisecond }},
		{"zero attempts", func(c *Config) { c.Client.ReconnectMaxAttempts = 0 }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"port out of range", func(c *Config) { c.Relay.Port = 70000 }},
		{"read timeout not above ping", func(c *Config) { c.Relay.ReadTimeout = c.Relay.PingInterval }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_ValidateRelayRequiresSecret(t *testing.T) {
	r := require.New(t)

	cfg := DefaultConfig()
	r.ErrorIs(cfg.ValidateRelay(), ErrInvalidConfig)

	cfg.Relay.JWTSecret = "secret"
	r.NoError(cfg.ValidateRelay())
}

func TestConfig_LoadFromEnv(t *testing.T) {
	r := require.New(t)

	t.Setenv("TUTORSYNC_RELAY_PORT", "9090")
	t.Setenv("TUTORSYNC_STORAGE_PATH", "/tmp/state.db")
	t.Setenv("TUTORSYNC_RECONNECT_MAX_ATTEMPTS", "7")

	cfg := DefaultConfig()
	r.NoError(LoadFromEnv(cfg))

	r.Equal(9090, cfg.Relay.Port)
	r.Equal("/tmp/state.db", cfg.Storage.Path)
	r.Equal(7, cfg.Client.ReconnectMaxAttempts)
	r.Equal("0.0.0.0", cfg.Relay.Host)
}

func TestConfig_LoadFromFile(t *testing.T) {
	r := require.New(t)

	path := writeConfigFile(t, `{
		"log_level": "debug",
		"client": {"reconnect_base_delay": "250ms", "token_poll_interval": "500ms"},
		"relay": {"jwt_secret": "s3cret", "auth_timeout": "2s"}
	}`)

	cfg := DefaultConfig()
	r.NoError(LoadFromFile(cfg, path))

	r.Equal("debug", cfg.LogLevel)
	r.Equal(250*time.Millisecond, cfg.Client.ReconnectBaseDelay)
	r.Equal(500*time.Millisecond, cfg.Client.TokenPollInterval)
	r.Equal(5*time.Second, cfg.Client.ReconnectMaxDelay)
	r.Equal("s3cret", cfg.Relay.JWTSecret)
	r.Equal(2*time.Second, cfg.Relay.AuthTimeout)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	r := require.New(t)

	r.Error(LoadFromFile(DefaultConfig(), filepath.Join(t.TempDir(), "missing.json")))
	r.Error(LoadFromFile(DefaultConfig(), writeConfigFile(t, `{not json`)))
	r.Error(LoadFromFile(DefaultConfig(), writeConfigFile(t, `{"client": {"http_timeout": "soon"}}`)))
}

func TestConfig_LoadPrecedence(t *testing.T) {
	r := require.New(t)

	t.Setenv("TUTORSYNC_RELAY_PORT", "7000")
	t.Setenv("TUTORSYNC_LOG_LEVEL", "warn")
	path := writeConfigFile(t, `{"relay": {"port": 8000}}`)

	cfg, err := Load(path)
	r.NoError(err)
	r.Equal(8000, cfg.Relay.Port)
	r.Equal("warn", cfg.LogLevel)

	cfg, err = Load("")
	r.NoError(err)
	r.Equal(7000, cfg.Relay.Port)
}

func TestConfig_LoadRejectsInvalidResult(t *testing.T) {
	path := writeConfigFile(t, `{"client": {"reconnect_max_attempts": 0}}`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
