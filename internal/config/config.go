package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config is the settings root shared by the client daemon and the relay.
type Config struct {
	LogLevel  string        `json:"log_level" env:"TUTORSYNC_LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFormat string        `json:"log_format" env:"TUTORSYNC_LOG_FORMAT" validate:"oneof=text json"`
	Client    ClientConfig  `json:"client"`
	Storage   StorageConfig `json:"storage"`
	Relay     RelayConfig   `json:"relay"`
}

// ClientConfig drives the client core: connection lifecycle, REST calls and
// notification delivery.
type ClientConfig struct {
	RelayURL             string        `json:"relay_url" env:"TUTORSYNC_RELAY_URL" validate:"required,url"`
	APIBaseURL           string        `json:"api_base_url" env:"TUTORSYNC_API_URL" validate:"required,url"`
	HTTPTimeout          time.Duration `json:"http_timeout" env:"TUTORSYNC_HTTP_TIMEOUT" validate:"gt=0"`
	HandshakeTimeout     time.Duration `json:"handshake_timeout" env:"TUTORSYNC_HANDSHAKE_TIMEOUT" validate:"gt=0"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" env:"TUTORSYNC_RECONNECT_BASE_DELAY" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `json:"reconnect_max_delay" env:"TUTORSYNC_RECONNECT_MAX_DELAY" validate:"gtefield=ReconnectBaseDelay"`
	ReconnectMaxAttempts int           `json:"reconnect_max_attempts" env:"TUTORSYNC_RECONNECT_MAX_ATTEMPTS" validate:"gte=1"`
	TokenPollInterval    time.Duration `json:"token_poll_interval" env:"TUTORSYNC_TOKEN_POLL_INTERVAL" validate:"gt=0,lte=1s"`
	JoinSettleDelay      time.Duration `json:"join_settle_delay" env:"TUTORSYNC_JOIN_SETTLE_DELAY" validate:"gte=0"`
	NotifyQueueSize      int           `json:"notify_queue_size" env:"TUTORSYNC_NOTIFY_QUEUE_SIZE" validate:"gte=1"`
}

// StorageConfig locates the local client state database.
type StorageConfig struct {
	Path           string `json:"path" env:"TUTORSYNC_STORAGE_PATH" validate:"required"`
	MaxConnections int    `json:"max_connections" env:"TUTORSYNC_STORAGE_MAX_CONNECTIONS" validate:"gte=1"`
}

// RelayConfig drives the push-side relay server.
type RelayConfig struct {
	Host          string        `json:"host" env:"TUTORSYNC_RELAY_HOST" validate:"required"`
	Port          int           `json:"port" env:"TUTORSYNC_RELAY_PORT" validate:"gte=1,lte=65535"`
	JWTSecret     string        `json:"jwt_secret" env:"TUTORSYNC_JWT_SECRET"`
	AuthTimeout   time.Duration `json:"auth_timeout" env:"TUTORSYNC_AUTH_TIMEOUT" validate:"gt=0"`
	PingInterval  time.Duration `json:"ping_interval" env:"TUTORSYNC_PING_INTERVAL" validate:"gt=0"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"TUTORSYNC_READ_TIMEOUT" validate:"gtfield=PingInterval"`
	HeaderTimeout time.Duration `json:"header_timeout" env:"TUTORSYNC_HEADER_TIMEOUT" validate:"gt=0"`
	BufferSize    int           `json:"buffer_size" env:"TUTORSYNC_BUFFER_SIZE" validate:"gte=1"`
	RateLimit     int           `json:"rate_limit" env:"TUTORSYNC_RATE_LIMIT" validate:"gte=1"`
}

// DefaultConfig returns the default settings. Reconnect values match a
// 1s base, 5s cap and 5 attempts; the token poll runs every second.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Client: ClientConfig{
			RelayURL:             "ws://localhost:5001/ws",
			APIBaseURL:           "http://localhost:5001",
			HTTPTimeout:          15 * time.Second,
			HandshakeTimeout:     10 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    5 * time.Second,
			ReconnectMaxAttempts: 5,
			TokenPollInterval:    time.Second,
			JoinSettleDelay:      500 * time.Millisecond,
			NotifyQueueSize:      64,
		},
		Storage: StorageConfig{
			Path:           "./data/tutorsync.db",
			MaxConnections: 4,
		},
		Relay: RelayConfig{
			Host:          "0.0.0.0",
			Port:          5001,
			AuthTimeout:   5 * time.Second,
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			HeaderTimeout: 10 * time.Second,
			BufferSize:    100,
			RateLimit:     100,
		},
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateRelay additionally requires the settings only the relay needs.
func (c *Config) ValidateRelay() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Relay.JWTSecret == "" {
		return fmt.Errorf("%w: relay jwt secret is required", ErrInvalidConfig)
	}
	return nil
}

// LoadFromEnv overlays environment variables onto cfg. A .env file in the
// working directory is loaded first when present; it never overrides
// variables already set in the process environment.
func LoadFromEnv(cfg *Config) error {
	_ = godotenv.Load()
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// fileConfig mirrors Config for JSON files, with durations as strings
// ("500ms", "5s"). Absent fields leave the current value.
type fileConfig struct {
	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`
	Client    *struct {
		RelayURL             *string `json:"relay_url"`
		APIBaseURL           *string `json:"api_base_url"`
		HTTPTimeout          *string `json:"http_timeout"`
		HandshakeTimeout     *string `json:"handshake_timeout"`
		ReconnectBaseDelay   *string `json:"reconnect_base_delay"`
		ReconnectMaxDelay    *string `json:"reconnect_max_delay"`
		ReconnectMaxAttempts *int    `json:"reconnect_max_attempts"`
		TokenPollInterval    *string `json:"token_poll_interval"`
		JoinSettleDelay      *string `json:"join_settle_delay"`
		NotifyQueueSize      *int    `json:"notify_queue_size"`
	} `json:"client"`
	Storage *struct {
		Path           *string `json:"path"`
		MaxConnections *int    `json:"max_connections"`
	} `json:"storage"`
	Relay *struct {
		Host          *string `json:"host"`
		Port          *int    `json:"port"`
		JWTSecret     *string `json:"jwt_secret"`
		AuthTimeout   *string `json:"auth_timeout"`
		PingInterval  *string `json:"ping_interval"`
		ReadTimeout   *string `json:"read_timeout"`
		HeaderTimeout *string `json:"header_timeout"`
		BufferSize    *int    `json:"buffer_size"`
		RateLimit     *int    `json:"rate_limit"`
	} `json:"relay"`
}

// LoadFromFile overlays the JSON file at path onto cfg.
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	o := overlay{}
	o.str(&cfg.LogLevel, f.LogLevel)
	o.str(&cfg.LogFormat, f.LogFormat)

	if c := f.Client; c != nil {
		o.str(&cfg.Client.RelayURL, c.RelayURL)
		o.str(&cfg.Client.APIBaseURL, c.APIBaseURL)
		o.dur(&cfg.Client.HTTPTimeout, c.HTTPTimeout)
		o.dur(&cfg.Client.HandshakeTimeout, c.HandshakeTimeout)
		o.dur(&cfg.Client.ReconnectBaseDelay, c.ReconnectBaseDelay)
		o.dur(&cfg.Client.ReconnectMaxDelay, c.ReconnectMaxDelay)
		o.num(&cfg.Client.ReconnectMaxAttempts, c.ReconnectMaxAttempts)
		o.dur(&cfg.Client.TokenPollInterval, c.TokenPollInterval)
		o.dur(&cfg.Client.JoinSettleDelay, c.JoinSettleDelay)
		o.num(&cfg.Client.NotifyQueueSize, c.NotifyQueueSize)
	}

	if s := f.Storage; s != nil {
		o.str(&cfg.Storage.Path, s.Path)
		o.num(&cfg.Storage.MaxConnections, s.MaxConnections)
	}

	if r := f.Relay; r != nil {
		o.str(&cfg.Relay.Host, r.Host)
		o.num(&cfg.Relay.Port, r.Port)
		o.str(&cfg.Relay.JWTSecret, r.JWTSecret)
		o.dur(&cfg.Relay.AuthTimeout, r.AuthTimeout)
		o.dur(&cfg.Relay.PingInterval, r.PingInterval)
		o.dur(&cfg.Relay.ReadTimeout, r.ReadTimeout)
		o.dur(&cfg.Relay.HeaderTimeout, r.HeaderTimeout)
		o.num(&cfg.Relay.BufferSize, r.BufferSize)
		o.num(&cfg.Relay.RateLimit, r.RateLimit)
	}

	if o.err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, o.err)
	}
	return nil
}

// Load builds the configuration with precedence file > environment >
// defaults and validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay copies present file values, keeping the first parse error.
type overlay struct {
	err error
}

func (o *overlay) str(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (o *overlay) num(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func (o *overlay) dur(dst *time.Duration, v *string) {
	if v == nil || o.err != nil {
		return
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		o.err = err
		return
	}
	*dst = d
}
