package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minIdentitySecretLength = 16

type Config struct {
	AppEnv string `env:"APP_ENV" default:"development"`
	Port   string `env:"PORT" default:"8080"`
	AppURL string `env:"APP_URL" default:"http://localhost:8080"`
	// Extra front ends (stage screens, companion apps) allowed to open websockets.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`

	IdentitySecret string `env:"IDENTITY_SECRET"`

	// Both optional: without them settlements stay in memory and events stay in-process.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	DatabaseMaxConns int32 `env:"DATABASE_MAX_CONNS" default:"4"`

	EmotionTypes              string        `env:"EMOTION_TYPES" default:"hype,joy,tension,anger,sadness,surprise"`
	EmotionDecayWindow        time.Duration `env:"EMOTION_DECAY_WINDOW" default:"5s"`
	EmotionSweepInterval      time.Duration `env:"EMOTION_SWEEP_INTERVAL" default:"250ms"`
	EmotionForgetOnDisconnect bool          `env:"EMOTION_FORGET_ON_DISCONNECT" default:"false"`

	LifecycleSweepInterval time.Duration `env:"LIFECYCLE_SWEEP_INTERVAL" default:"1s"`
	PoolResolutionGrace    time.Duration `env:"POOL_RESOLUTION_GRACE" default:"0s"`
	EntityRetention        time.Duration `env:"ENTITY_RETENTION" default:"1h"`
	ProposalQuorum         int           `env:"PROPOSAL_QUORUM" default:"0"`
	ProposalEarlyThreshold int           `env:"PROPOSAL_EARLY_THRESHOLD" default:"0"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectRate         float64 `env:"CONNECT_RATE" default:"10"`
	ConnectBurst        int     `env:"CONNECT_BURST" default:"20"`
	ConnectionQueueSize int     `env:"CONNECTION_QUEUE_SIZE" default:"64"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"5m"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"40"`

	LedgerQueueSize int           `env:"LEDGER_QUEUE_SIZE" default:"1024"`
	RelayQueueSize  int           `env:"RELAY_QUEUE_SIZE" default:"1024"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
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

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// EmotionTypeList splits EMOTION_TYPES on commas.
func (c *Config) EmotionTypeList() []string {
	return strings.Split(c.EmotionTypes, ",")
}

// AllowedOriginList splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c *Config) AllowedOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.IdentitySecret == "" {
		return errors.New("IDENTITY_SECRET is required")
	}
	if len(cfg.IdentitySecret) < minIdentitySecretLength {
		return fmt.Errorf("IDENTITY_SECRET must be at least %d characters", minIdentitySecretLength)
	}

	positive := map[string]time.Duration{
		"EMOTION_DECAY_WINDOW":     cfg.EmotionDecayWindow,
		"EMOTION_SWEEP_INTERVAL":   cfg.EmotionSweepInterval,
		"LIFECYCLE_SWEEP_INTERVAL": cfg.LifecycleSweepInterval,
		"SHUTDOWN_TIMEOUT":         cfg.ShutdownTimeout,
		"SESSION_IDLE_TIMEOUT":     cfg.SessionIdleTimeout,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.PoolResolutionGrace < 0 || cfg.EntityRetention < 0 {
		return errors.New("POOL_RESOLUTION_GRACE and ENTITY_RETENTION must not be negative")
	}
	if cfg.ProposalQuorum < 0 || cfg.ProposalEarlyThreshold < 0 {
		return errors.New("PROPOSAL_QUORUM and PROPOSAL_EARLY_THRESHOLD must not be negative")
	}
	if cfg.MaxConnections <= 0 {
		return errors.New("MAX_CONNECTIONS must be positive")
	}
	if cfg.DatabaseMaxConns <= 0 {
		return errors.New("DATABASE_MAX_CONNS must be positive")
	}
	if cfg.ConnectionQueueSize <= 0 || cfg.LedgerQueueSize <= 0 || cfg.RelayQueueSize <= 0 {
		return errors.New("queue sizes must be positive")
	}

	if cfg.AppEnv == "production" && cfg.DatabaseURL != "" {
		if err := requireSecureSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	return nil
}

func requireSecureSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	switch mode := strings.ToLower(u.Query().Get("sslmode")); mode {
	case "disable", "allow":
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
