// Package config loads and validates the service configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// SessionDuration is the lifetime of a session cookie and of the signed
// token inside it.
const SessionDuration = 7 * 24 * time.Hour

// MinSecretLength is the minimum SESSION_SECRET length in bytes.
const MinSecretLength = 32

type Config struct {
	Env      string `env:"APP_ENV"   envDefault:"development"`
	Port     string `env:"PORT"      envDefault:"8080"`
	AppURL   string `env:"APP_URL,required"`
	DBPath   string `env:"DB_PATH"   envDefault:"data/auth.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SessionSecret string `env:"SESSION_SECRET,required"`

	Facebook  FacebookConfig
	Instagram ProviderConfig `envPrefix:"INSTAGRAM_"`
	Twitter   TwitterConfig

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX"    envDefault:"100"`
	RedisAddr       string        `env:"REDIS_ADDR"`
}

// ProviderConfig holds one app registration's client credentials.
type ProviderConfig struct {
	ClientID     string `env:"APP_ID"`
	ClientSecret string `env:"APP_SECRET"`
}

type FacebookConfig struct {
	ClientID     string `env:"FACEBOOK_APP_ID"`
	ClientSecret string `env:"FACEBOOK_APP_SECRET"`
	// BusinessConfigID selects a Facebook Login for Business configuration.
	BusinessConfigID string `env:"FACEBOOK_BUSINESS_CONFIG_ID"`
}

type TwitterConfig struct {
	ClientID     string `env:"TWITTER_CLIENT_ID"`
	ClientSecret string `env:"TWITTER_CLIENT_SECRET"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom is Load with an explicit environment, for tests.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values env tags cannot express. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be development, production or test, got %q", c.Env))
	}

	if u, err := url.Parse(c.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("APP_URL must be an absolute URL, got %q", c.AppURL))
	}

	if len(c.SessionSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSecretLength))
	}

	required := map[string]string{
		"FACEBOOK_APP_ID":       c.Facebook.ClientID,
		"FACEBOOK_APP_SECRET":   c.Facebook.ClientSecret,
		"INSTAGRAM_APP_ID":      c.Instagram.ClientID,
		"INSTAGRAM_APP_SECRET":  c.Instagram.ClientSecret,
		"TWITTER_CLIENT_ID":     c.Twitter.ClientID,
		"TWITTER_CLIENT_SECRET": c.Twitter.ClientSecret,
	}
	for _, name := range []string{
		"FACEBOOK_APP_ID", "FACEBOOK_APP_SECRET",
		"INSTAGRAM_APP_ID", "INSTAGRAM_APP_SECRET",
		"TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET",
	} {
		if strings.TrimSpace(required[name]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// BaseURL is APP_URL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.AppURL, "/")
}

// RedirectURI builds the OAuth redirect_uri for provider. It is the only
// place the callback URL is built, so the value sent with the authorization
// request and with the token exchange is always identical.
func (c *Config) RedirectURI(provider model.ProviderName) string {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return c.BaseURL() + "/auth/" + string(provider) + "/callback"
	}
	// path.Join collapses duplicate slashes in the configured base path.
	u.Path = path.Join("/", u.Path, "auth", string(provider), "callback")
	return u.String()
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
