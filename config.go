package authgate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the front-end settings. Zero values are filled in by
// EnsureDefaults.
type Config struct {
	// Base URL of the session server
	ServerURL string `env:"AUTHGATE_SERVER_URL"`

	// Google client used for the silent and explicit federated prompts
	GoogleClientID     string `env:"AUTHGATE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"AUTHGATE_GOOGLE_CLIENT_SECRET"`

	// Where session cookies are persisted between runs. "-" disables
	// persistence.
	CookieFile string `env:"AUTHGATE_COOKIE_FILE"`

	RequestTimeout time.Duration `env:"AUTHGATE_REQUEST_TIMEOUT"`
	LogoutTimeout  time.Duration `env:"AUTHGATE_LOGOUT_TIMEOUT"`
	NavigateDelay  time.Duration `env:"AUTHGATE_NAVIGATE_DELAY"`

	LogLevel string `env:"AUTHGATE_LOG_LEVEL"`
}

// LoadConfig reads AUTHGATE_* environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.EnsureDefaults(), nil
}

// EnsureDefaults fills in unset fields.
func (c *Config) EnsureDefaults() *Config {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")
	if c.CookieFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.CookieFile = filepath.Join(dir, "authgate", "cookies.json")
		}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = DefaultLogoutTimeout
	}
	if c.NavigateDelay <= 0 {
		c.NavigateDelay = DefaultNavigateDelay
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// PersistCookies reports whether cookies should be written to CookieFile.
func (c *Config) PersistCookies() bool {
	return c.CookieFile != "" && c.CookieFile != "-"
}

// ProviderConfig is the fixed federated client configuration.
func (c *Config) ProviderConfig() ProviderConfig {
	return ProviderConfig{
		ClientID:           c.GoogleClientID,
		AutoSelect:         false,
		CancelOnTapOutside: true,
	}
}

// FederatedEnabled reports whether a Google client is configured.
func (c *Config) FederatedEnabled() bool {
	return c.GoogleClientID != ""
}
