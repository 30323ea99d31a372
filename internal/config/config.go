package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the immutable runtime configuration, parsed once at startup and
// injected into the components that need it. There are no runtime toggles.
type Config struct {
	Addr        string `env:"OCEANIA_ADDR" envDefault:":3000"`
	PostgresDSN string `env:"OCEANIA_PG_DSN"`
	AuditPath   string `env:"OCEANIA_AUDIT_PATH" envDefault:"audit.log"`

	AuthSecret string        `env:"OCEANIA_AUTH_SECRET"`
	TokenTTL   time.Duration `env:"OCEANIA_TOKEN_TTL" envDefault:"24h"`

	RateCapacity int           `env:"OCEANIA_RATE_CAPACITY" envDefault:"10"`
	RateWindow   time.Duration `env:"OCEANIA_RATE_WINDOW" envDefault:"5s"`

	// ModerationMode selects the pipeline: "filter" censors via wordlist,
	// "score" asks an external classifier.
	ModerationMode      string        `env:"OCEANIA_MODERATION_MODE" envDefault:"filter"`
	ModerationURL       string        `env:"OCEANIA_MODERATION_URL"`
	ModerationThreshold float64       `env:"OCEANIA_MODERATION_THRESHOLD" envDefault:"0.6"`
	ModerationTimeout   time.Duration `env:"OCEANIA_MODERATION_TIMEOUT" envDefault:"5s"`
	Blocklist           []string      `env:"OCEANIA_BLOCKLIST" envSeparator:","`

	BridgeURL       string        `env:"OCEANIA_BRIDGE_URL"`
	BridgeQueueSize int           `env:"OCEANIA_BRIDGE_QUEUE" envDefault:"64"`
	BridgeTimeout   time.Duration `env:"OCEANIA_BRIDGE_TIMEOUT" envDefault:"5s"`

	DefaultChannel string `env:"OCEANIA_DEFAULT_CHANNEL" envDefault:"home"`
	PageSize       int    `env:"OCEANIA_PAGE_SIZE" envDefault:"20"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AuthSecret == "" {
		return errors.New("config: OCEANIA_AUTH_SECRET is required")
	}
	if c.RateCapacity <= 0 || c.RateWindow <= 0 {
		return errors.New("config: rate capacity and window must be positive")
	}
	switch c.ModerationMode {
	case "filter":
	case "score":
		if c.ModerationURL == "" {
			return errors.New("config: score moderation requires OCEANIA_MODERATION_URL")
		}
	default:
		return fmt.Errorf("config: unknown moderation mode %q", c.ModerationMode)
	}
	if c.ModerationThreshold < 0 || c.ModerationThreshold > 1 {
		return errors.New("config: moderation threshold must be within [0,1]")
	}
	if c.PageSize <= 0 {
		return errors.New("config: page size must be positive")
	}
	return nil
}
