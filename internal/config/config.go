// Package config reads chatgate's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/pairing"
	"github.com/dukerupert/chatgate/internal/session"
)

type Config struct {
	Port   string
	DBPath string

	// MaxDevices is the one slot limit shared by the registry and pairing.
	MaxDevices      int
	SessionTTL      time.Duration
	PairingTTL      time.Duration
	PairingAttempts int
	CookieSecure    bool

	PairingPepper     string
	PairingEncKey     string
	OTPPepper         string
	CollaboratorToken string

	OTPWebhookURL   string
	OTPWebhookToken string
	WSOrigins       []string

	SweepInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults and reporting every
// missing or malformed variable at once.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		Port:              p.str("PORT", "8080"),
		DBPath:            p.str("DB_PATH", "chatgate.db"),
		MaxDevices:        p.int("MAX_DEVICES", device.DefaultMaxDevices),
		SessionTTL:        p.duration("SESSION_TTL", session.DefaultTTL),
		PairingTTL:        p.duration("PAIRING_TTL", pairing.DefaultTTL),
		PairingAttempts:   p.int("PAIRING_ATTEMPTS", pairing.DefaultAttempts),
		CookieSecure:      p.bool("COOKIE_SECURE", true),
		PairingPepper:     p.required("PAIRING_PEPPER"),
		PairingEncKey:     p.required("PAIRING_ENC_KEY"),
		OTPPepper:         p.required("OTP_PEPPER"),
		CollaboratorToken: p.required("COLLABORATOR_TOKEN"),
		OTPWebhookURL:     p.str("OTP_WEBHOOK_URL", ""),
		OTPWebhookToken:   p.str("OTP_WEBHOOK_TOKEN", ""),
		WSOrigins:         p.list("WS_ORIGINS"),
		SweepInterval:     p.duration("SWEEP_INTERVAL", time.Hour),
		LogLevel:          p.str("LOG_LEVEL", "info"),
		LogFormat:         p.str("LOG_FORMAT", "text"),
	}
	if cfg.MaxDevices < 1 {
		p.errs = append(p.errs, fmt.Errorf("MAX_DEVICES must be at least 1"))
	}
	if cfg.PairingAttempts < 1 {
		p.errs = append(p.errs, fmt.Errorf("PAIRING_ATTEMPTS must be at least 1"))
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) required(key string) string {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
	}
	return v
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be positive", key))
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, s := range strings.Split(p.getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
