package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for camperstories-admin.
type Config struct {
	// Base URL of the data endpoints (/admin, /campers, /campus).
	APIBaseURL string `env:"API_BASE_URL"`

	// Base URL of the session endpoints (/users/login, /users/validate-session,
	// /users/refresh-token, /users/logout). Defaults to APIBaseURL.
	SessionBaseURL string `env:"SESSION_BASE_URL"`

	// Public front end. Non-admin users are pointed at its /login page.
	FrontendURL string `env:"FRONTEND_URL"`

	// Optional credentials for non-interactive login.
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Credential store location. Defaults to ~/.camperstories-admin/state.db.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Request pipeline limits.
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RequestRate       float64       `env:"REQUEST_RATE" envDefault:"20"`
	RequestBurst      int           `env:"REQUEST_BURST" envDefault:"10"`
	DetailConcurrency int           `env:"DETAIL_CONCURRENCY" envDefault:"4"`

	// Settings for the long-running watch command.
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:"127.0.0.1:9464"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL" envDefault:"1m"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.SessionBaseURL = strings.TrimRight(cfg.SessionBaseURL, "/")
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	if cfg.SessionBaseURL == "" {
		cfg.SessionBaseURL = cfg.APIBaseURL
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The store path is resolved once so a later chdir cannot point the
	// CLI at a different credential file.
	if cfg.StatePath != "" {
		abs, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	if err := checkURL("API_BASE_URL", c.APIBaseURL); err != nil {
		return err
	}

	if err := checkURL("SESSION_BASE_URL", c.SessionBaseURL); err != nil {
		return err
	}

	if c.FrontendURL != "" {
		if err := checkURL("FRONTEND_URL", c.FrontendURL); err != nil {
			return err
		}
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.RequestRate < 0 {
		return fmt.Errorf("REQUEST_RATE must not be negative")
	}

	if c.RequestBurst < 1 {
		return fmt.Errorf("REQUEST_BURST must be at least 1")
	}

	if c.DetailConcurrency < 1 {
		return fmt.Errorf("DETAIL_CONCURRENCY must be at least 1")
	}

	if c.WatchInterval <= 0 {
		return fmt.Errorf("WATCH_INTERVAL must be positive")
	}

	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasAdminCredentials reports whether both ADMIN_EMAIL and ADMIN_PASSWORD
// are set.
func (c *Config) HasAdminCredentials() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}
