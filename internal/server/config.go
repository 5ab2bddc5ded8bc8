package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-live/internal/realtime"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
// Priority: environment variables > .env file > envDefault tags.
type Config struct {
	Port           string   `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit      RateLimitConfig

	// Live connection behaviour
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	TypingTimeout     time.Duration `env:"TYPING_TIMEOUT" envDefault:"5s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	WriteWait         time.Duration `env:"WRITE_WAIT" envDefault:"10s"`

	// Credentials
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Storage; empty keeps everything in memory
	DataDir string `env:"DATA_DIR"`

	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadConfig reads an optional .env file, then the process environment, and
// validates the result.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	return ParseConfig(nil)
}

// ParseConfig builds a Config from environ, or from the process environment
// when environ is nil.
func ParseConfig(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("SERVER_PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be > 0, got %d", c.MaxMessageSize)
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0, got %d", c.RateLimit.Burst)
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be > 0, got %d", c.SendBufferSize)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"RATE_LIMIT_REFILL_INTERVAL", c.RateLimit.RefillInterval},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"TYPING_TIMEOUT", c.TypingTimeout},
		{"WRITE_WAIT", c.WriteWait},
		{"JWT_TTL", c.JWTTTL},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", d.name, d.value)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// RealtimeOptions maps the configuration onto the hub's options.
func (c *Config) RealtimeOptions() realtime.Options {
	return realtime.Options{
		HeartbeatInterval: c.HeartbeatInterval,
		TypingTimeout:     c.TypingTimeout,
		WriteWait:         c.WriteWait,
		MaxMessageSize:    c.MaxMessageSize,
		SendBufferSize:    c.SendBufferSize,
		RateLimit: realtime.RateLimit{
			Burst:          c.RateLimit.Burst,
			RefillInterval: c.RateLimit.RefillInterval,
		},
	}
}

// LogConfig logs the effective configuration. The JWT secret is never logged.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("port", c.Port).
		Strs("allowed_origins", c.AllowedOrigins).
		Int64("max_message_size", c.MaxMessageSize).
		Int("rate_limit_burst", c.RateLimit.Burst).
		Dur("rate_limit_refill_interval", c.RateLimit.RefillInterval).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("typing_timeout", c.TypingTimeout).
		Int("send_buffer_size", c.SendBufferSize).
		Dur("write_wait", c.WriteWait).
		Dur("jwt_ttl", c.JWTTTL).
		Str("data_dir", c.DataDir).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
