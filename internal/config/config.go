package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the realtime messaging service.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"scenyx-realtime"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"PORT" envDefault:"8080"`
	NodeID          string        `env:"NODE_ID"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"` // console or json
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://127.0.0.1:5173"`

	// Auth
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"true"`
	JWTSecret   string `env:"JWT_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`

	// Storage: empty DATABASE_URL keeps everything in memory
	DatabaseURL string `env:"DATABASE_URL"`

	// Cluster: empty VALKEY_ADDR runs as a single node
	ValkeyAddr         string        `env:"VALKEY_ADDR"`
	ValkeyPassword     string        `env:"VALKEY_PASSWORD"`
	ValkeyDB           int           `env:"VALKEY_DB" envDefault:"0"`
	ClusterPresenceTTL time.Duration `env:"CLUSTER_PRESENCE_TTL" envDefault:"2m"`

	// Sessions and backpressure
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`
	ReapInterval     time.Duration `env:"REAP_INTERVAL" envDefault:"15s"`
	OutboxCapacity   int           `env:"OUTBOX_CAPACITY" envDefault:"64"`

	// Sequencer
	SequencerStripes      int           `env:"SEQUENCER_STRIPES" envDefault:"256"`
	SequencerCacheSize    int           `env:"SEQUENCER_CACHE_SIZE" envDefault:"1024"`
	PersistMaxRetries     uint64        `env:"PERSIST_MAX_RETRIES" envDefault:"4"`
	PersistInitialBackoff time.Duration `env:"PERSIST_INITIAL_BACKOFF" envDefault:"50ms"`
	PersistMaxBackoff     time.Duration `env:"PERSIST_MAX_BACKOFF" envDefault:"1s"`

	// Push notifications: empty PUSH_GATEWAY_URL only logs offline notifications
	PushGatewayURL   string        `env:"PUSH_GATEWAY_URL"`
	PushGatewayToken string        `env:"PUSH_GATEWAY_TOKEN"`
	PushTimeout      time.Duration `env:"PUSH_TIMEOUT" envDefault:"5s"`
}

// LoadEnvFiles loads .env files if present. Missing files are skipped; a
// file that exists but cannot be parsed is an error.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "node-local"
		}
		cfg.NodeID = host
	}

	if cfg.AuthEnabled && strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED is true")
	}
	if cfg.OutboxCapacity <= 0 {
		return nil, fmt.Errorf("OUTBOX_CAPACITY must be positive, got %d", cfg.OutboxCapacity)
	}
	if cfg.SequencerStripes <= 0 {
		return nil, fmt.Errorf("SEQUENCER_STRIPES must be positive, got %d", cfg.SequencerStripes)
	}
	if cfg.HeartbeatTimeout <= 0 || cfg.ReapInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT and REAP_INTERVAL must be positive")
	}

	return cfg, nil
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) ClusterEnabled() bool {
	return strings.TrimSpace(c.ValkeyAddr) != ""
}
