// Package config provides YAML-based configuration loading for the pairing server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"whatsapp-pair-server/session"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	Listen         string          `yaml:"listen"`
	DataDir        string          `yaml:"data_dir"`
	PublicURL      string          `yaml:"public_url"`
	Log            LogConfig       `yaml:"log"`
	Pairing        PairingConfig   `yaml:"pairing"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	DefaultSession DefaultSession  `yaml:"default_session"`
	Resume         bool            `yaml:"resume"`
	ResumeWorkers  int             `yaml:"resume_workers"`
	NotifyOnPair   *bool           `yaml:"notify_on_pair"`
	AbandonFailed  bool            `yaml:"abandon_failed"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// PairingConfig tunes pairing code requests.
type PairingConfig struct {
	Attempts     int           `yaml:"attempts"`
	Delay        time.Duration `yaml:"delay"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	ClientName   string        `yaml:"client_name"`
}

// ReconnectConfig bounds the delay between reconnect attempts.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RateLimitConfig limits /pair requests per client. Zero disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DefaultSession is a standing session supervised from startup.
type DefaultSession struct {
	Enabled bool   `yaml:"enabled"`
	ID      string `yaml:"id"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Notify reports whether a freshly paired account is sent its session id.
func (c *Config) Notify() bool {
	return c.NotifyOnPair == nil || *c.NotifyOnPair
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.DataDir == "" {
		c.DataDir = "sessions"
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Pairing.Attempts == 0 {
		c.Pairing.Attempts = 3
	}
	if c.Pairing.Delay == 0 {
		c.Pairing.Delay = 2 * time.Second
	}
	if c.Pairing.ReadyTimeout == 0 {
		c.Pairing.ReadyTimeout = 20 * time.Second
	}
	if c.Pairing.ClientName == "" {
		c.Pairing.ClientName = "Chrome (Linux)"
	}
	if c.Reconnect.InitialInterval == 0 {
		c.Reconnect.InitialInterval = time.Second
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.DefaultSession.Enabled && c.DefaultSession.ID == "" {
		c.DefaultSession.ID = "main"
	}
	if c.ResumeWorkers == 0 {
		c.ResumeWorkers = 4
	}
}

// Validate checks that all fields are present and consistent.
func (c *Config) Validate() error {
	var errs []string
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.Pairing.Attempts < 1 {
		errs = append(errs, "pairing.attempts must be at least 1")
	}
	if c.Pairing.Delay < 0 {
		errs = append(errs, "pairing.delay must not be negative")
	}
	if c.Pairing.ReadyTimeout < 0 {
		errs = append(errs, "pairing.ready_timeout must not be negative")
	}
	if c.Reconnect.InitialInterval < 0 || c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		errs = append(errs, "reconnect.max_interval must be at least reconnect.initial_interval")
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, "connect_timeout must not be negative")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit values must not be negative")
	}
	if c.ResumeWorkers < 1 {
		errs = append(errs, "resume_workers must be at least 1")
	}
	if c.DefaultSession.Enabled && !session.ValidID(c.DefaultSession.ID) {
		errs = append(errs, fmt.Sprintf("default_session.id %q is not a valid session id", c.DefaultSession.ID))
	}
	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("public_url %q must be an absolute URL", c.PublicURL))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
