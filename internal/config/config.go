// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingSecret is returned when no token signing secret is configured.
var ErrMissingSecret = errors.New("JWT_SECRET environment variable is not set")

// Config holds all application configuration.
type Config struct {
	Port           string
	LogLevel       string
	AllowedOrigins []string

	// TrustProxy honours X-Forwarded-For and X-Real-IP. Only enable it
	// behind a proxy that overwrites those headers.
	TrustProxy bool

	Database Database
	Token    Token
	Limits   Limits
	Redis    Redis

	// SanitizeContent strips markup from inbound frames before they are
	// persisted and relayed.
	SanitizeContent bool
}

// Database selects and locates the message and credential store.
type Database struct {
	Driver string // "postgres" or "sqlite"
	URL    string
	Path   string
}

// Token configures the identity token issuer.
type Token struct {
	Secret string
	Issuer string
	TTL    time.Duration // 0 = tokens never expire
}

// Limits bounds per-client traffic.
type Limits struct {
	MessageRequests int
	MessageWindow   time.Duration
	AuthRequests    int
	AuthWindow      time.Duration
	MaxFrameBytes   int64
}

// Redis enables a shared rate limiter when Addr is set.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables. A value that is set
// but cannot be parsed is an error, never a silent fallback to the default.
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		TrustProxy:     env.getBool("TRUST_PROXY_HEADERS", false),
		Database: Database{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			URL:    getEnv("DB_URL", ""),
			Path:   getEnv("DB_PATH", "./data/relay.db"),
		},
		Token: Token{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: getEnv("JWT_ISS", "relay"),
			TTL:    env.getDuration("TOKEN_TTL", 0),
		},
		Limits: Limits{
			MessageRequests: env.getInt("MESSAGE_RATE_LIMIT", 30),
			MessageWindow:   env.getDuration("MESSAGE_RATE_WINDOW", time.Minute),
			AuthRequests:    env.getInt("AUTH_RATE_LIMIT", 10),
			AuthWindow:      env.getDuration("AUTH_RATE_WINDOW", time.Minute),
			MaxFrameBytes:   int64(env.getInt("MAX_FRAME_BYTES", 32768)),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       env.getInt("REDIS_DB", 0),
		},
		SanitizeContent: env.getBool("SANITIZE_CONTENT", false),
	}

	if err := errors.Join(errors.Join(env.errs...), cfg.Validate()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return ErrMissingSecret
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric: %q", c.Port)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DB_URL environment variable is not set")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Token.TTL < 0 {
		return fmt.Errorf("TOKEN_TTL cannot be negative")
	}
	if c.Limits.MessageRequests < 0 || c.Limits.AuthRequests < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}
	if c.Limits.MessageWindow <= 0 || c.Limits.AuthWindow <= 0 {
		return fmt.Errorf("rate limit windows must be > 0")
	}
	if c.Limits.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 0")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return "0.0.0.0:" + c.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// envReader parses typed variables and keeps every parse failure.
type envReader struct {
	errs []error
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *envReader) getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		e.fail(key, value, errors.New("not a boolean"))
		return fallback
	}
}

func (e *envReader) getInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		e.fail(key, value, err)
		return fallback
	}
	return n
}

func (e *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		e.fail(key, value, err)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
