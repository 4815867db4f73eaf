// Package config loads the settings of the accord command from environment
// variables, optionally overlaid by a YAML file named in ACCORD_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store selects and configures the event log backend.
type Store struct {
	// Backend is one of memory, sqlite, bolt, redis, postgres.
	Backend string `yaml:"backend"`
	// Path is the file of the sqlite and bolt backends.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string or the Redis address.
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
}

// Config holds host and client configuration.
type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	Parties       int           `yaml:"parties"`
	CatalogPath   string        `yaml:"catalog"`
	SessionID     string        `yaml:"session_id"`
	Store         Store         `yaml:"store"`
	ReadRole      time.Duration `yaml:"read_role"`
	Negotiate     time.Duration `yaml:"negotiate"`
	TokenSecret   string        `yaml:"token_secret"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	RateBurst     int           `yaml:"rate_burst"`
	OTLPEndpoint  string        `yaml:"otlp_endpoint"`
	// Archive is a directory or an s3://bucket/prefix URL. Empty disables
	// archiving.
	Archive  string `yaml:"archive"`
	LogLevel string `yaml:"log_level"`
	TLS      bool   `yaml:"tls"`
	// CAFile is the host certificate a joiner trusts when TLS is on.
	CAFile string `yaml:"ca_file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8742",
		Parties:       3,
		SessionID:     "default",
		Store:         Store{Backend: "memory"},
		ReadRole:      300 * time.Second,
		Negotiate:     1800 * time.Second,
		RatePerSecond: 5,
		RateBurst:     10,
		LogLevel:      "INFO",
	}
}

// Load loads configuration from environment variables. When ACCORD_CONFIG
// names a YAML file it is applied first and the environment wins over it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ACCORD_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("ACCORD_LISTEN_ADDR", &c.ListenAddr)
	str("ACCORD_CATALOG", &c.CatalogPath)
	str("ACCORD_SESSION_ID", &c.SessionID)
	str("ACCORD_STORE", &c.Store.Backend)
	str("ACCORD_STORE_PATH", &c.Store.Path)
	str("ACCORD_STORE_DSN", &c.Store.DSN)
	str("ACCORD_STORE_PASSWORD", &c.Store.Password)
	str("ACCORD_TOKEN_SECRET", &c.TokenSecret)
	str("ACCORD_OTLP_ENDPOINT", &c.OTLPEndpoint)
	str("ACCORD_ARCHIVE", &c.Archive)
	str("ACCORD_CA_FILE", &c.CAFile)
	str("LOG_LEVEL", &c.LogLevel)

	if v := getenv("ACCORD_PARTIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ACCORD_PARTIES: %w", err)
		}
		c.Parties = n
	}
	for key, dst := range map[string]*time.Duration{
		"ACCORD_READ_ROLE": &c.ReadRole,
		"ACCORD_NEGOTIATE": &c.Negotiate,
	} {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
	}
	if v := getenv("ACCORD_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: ACCORD_RATE: %w", err)
		}
		c.RatePerSecond = r
	}
	if v := getenv("ACCORD_RATE_BURST"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ACCORD_RATE_BURST: %w", err)
		}
		c.RateBurst = b
	}
	if v := getenv("ACCORD_TLS"); v != "" {
		c.TLS = v == "true"
	}
	return nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	if c.Parties < 2 {
		return fmt.Errorf("config: a session needs at least 2 parties, got %d", c.Parties)
	}
	if c.ReadRole < 0 || c.Negotiate <= 0 {
		return fmt.Errorf("config: stage durations must be positive")
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "sqlite", "bolt":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store %s needs a path", c.Store.Backend)
		}
	case "redis", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store %s needs a dsn", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}
