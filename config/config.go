// Package config loads the service configuration: defaults, then the YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// duration accepts strings understood by time.ParseDuration
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Config holds all peer-review-matrix configuration.
type Config struct {
	// Backend API
	APIBaseURL     string `yaml:"api_base_url" validate:"required,url"`
	Token          string `yaml:"token"`
	TokenFile      string `yaml:"token_file"`
	RequestTimeout string `yaml:"request_timeout" validate:"required,duration"`
	CacheTTL       string `yaml:"cache_ttl" validate:"required,duration"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// HTTP server
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// Snapshot storage
	DatabasePath   string `yaml:"database_path" validate:"required"`
	KeepSnapshots  int    `yaml:"keep_snapshots" validate:"min=0"`
	ServeStaleData bool   `yaml:"serve_stale_data"`

	Logging LoggingConfig `yaml:"logging"`
}

// RateLimitConfig bounds outbound backend requests. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"min=0"`
	Burst int     `yaml:"burst" validate:"min=0"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8080",
		RequestTimeout: "15s",
		CacheTTL:       "5m",
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 5,
		},
		ListenAddr:     ":8081",
		DatabasePath:   "data/peer_review.db",
		KeepSnapshots:  20,
		ServeStaleData: true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.loadTokenFile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PEER_REVIEW_API_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("PEER_REVIEW_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("PEER_REVIEW_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PEER_REVIEW_DB"); v != "" {
		c.DatabasePath = v
	}
}

// loadTokenFile reads the bearer token from TokenFile when no token is set.
func (c *Config) loadTokenFile() error {
	if c.Token != "" || c.TokenFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	c.Token = strings.TrimSpace(string(data))
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.GetRequestTimeout() <= 0 {
		return fmt.Errorf("invalid config: request_timeout must be positive")
	}
	return nil
}

// GetRequestTimeout parses RequestTimeout.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetCacheTTL parses CacheTTL; negative values disable the cache.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
