// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Elizabethomito/racereg/backend/internal/pricing"
)

// Config holds every setting the server reads at startup.
//
// DATABASE_URL uses modernc.org/sqlite URI parameters:
//
//	_pragma=foreign_keys(1)    enforce FK constraints on every connection
//	_pragma=journal_mode(WAL)  readers don't block writers
//	_pragma=busy_timeout(5000) wait up to 5 s instead of returning SQLITE_BUSY
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"racereg.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`

	ConfirmationSecret   string `env:"CONFIRMATION_SECRET" envDefault:"changeme-use-a-real-secret-in-production"`
	PaymentProvider      string `env:"PAYMENT_PROVIDER" envDefault:"stub"`
	PaymentWebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET" envDefault:"changeme-webhook-secret"`
	PublicBaseURL        string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	// Fees are basis points: 500 = 5%.
	PlatformFeeBP int64 `env:"PLATFORM_FEE_BP" envDefault:"500"`
	GSTBP         int64 `env:"GST_BP" envDefault:"1800"`

	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"2h"`

	// EnableSeed exposes POST /api/admin/seed. Keep it off outside demos.
	EnableSeed bool `env:"ENABLE_SEED" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(dotenvPaths ...string) (Config, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, p := range dotenvPaths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PlatformFeeBP < 0 || c.GSTBP < 0 {
		return errors.New("fee basis points must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Fees returns the fee schedule submissions are settled with.
func (c Config) Fees() pricing.FeeSchedule {
	return pricing.FeeSchedule{PlatformFeeBP: c.PlatformFeeBP, GSTBP: c.GSTBP}
}

// Level returns the parsed LOG_LEVEL.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
