package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AdminPort string `env:"ADMIN_PORT" default:"9090"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TickInterval     time.Duration `env:"TICK_INTERVAL" default:"1s"`
	MaxQueueLength   int           `env:"MAX_QUEUE_LENGTH" default:"1000"`
	MaxOutstanding   int           `env:"MAX_OUTSTANDING" default:"0"` // 0 = unbounded
	ClientBufferSize int           `env:"CLIENT_BUFFER_SIZE" default:"64"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
	AllowedOrigins          string  `env:"ALLOWED_ORIGINS" default:"*"`

	RedisURL       string        `env:"REDIS_URL"`
	MasterLeaseTTL time.Duration `env:"MASTER_LEASE_TTL" default:"30s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins returns ALLOWED_ORIGINS split on commas.
func (c *Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}

// LeaseEnabled reports whether master authority is gated by Redis leases.
func (c *Config) LeaseEnabled() bool {
	return c.RedisURL != ""
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}
	if cfg.AdminPort != "" && cfg.AdminPort == cfg.Port {
		return errors.New("ADMIN_PORT must differ from PORT")
	}

	if cfg.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", cfg.TickInterval)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"MAX_QUEUE_LENGTH", cfg.MaxQueueLength},
		{"CLIENT_BUFFER_SIZE", cfg.ClientBufferSize},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECTION_BURST", cfg.ConnectionBurst},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if cfg.MaxOutstanding < 0 {
		return fmt.Errorf("MAX_OUTSTANDING must not be negative, got %d", cfg.MaxOutstanding)
	}
	if cfg.ConnectionRate <= 0 {
		return fmt.Errorf("CONNECTION_RATE must be positive, got %g", cfg.ConnectionRate)
	}

	if len(cfg.Origins()) == 0 {
		return errors.New("ALLOWED_ORIGINS must list at least one origin or *")
	}

	if cfg.LeaseEnabled() && cfg.MasterLeaseTTL <= 0 {
		return fmt.Errorf("MASTER_LEASE_TTL must be positive, got %s", cfg.MasterLeaseTTL)
	}

	return nil
}
