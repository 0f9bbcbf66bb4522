// Package config loads the engine's YAML configuration with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the settlement engine.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Fees     Fees     `yaml:"fees"`
	Cache    Cache    `yaml:"cache"`
	Ledger   Ledger   `yaml:"ledger"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Database holds the PostgreSQL connection string. Empty means the
// in-memory store (development only).
type Database struct {
	URL string `yaml:"url"`
}

// Redis holds the optional cache-layer connection string.
type Redis struct {
	URL string `yaml:"url"`
}

// Fees configures the brokerage fee schedule. Values are decimal strings
// so the schedule round-trips exactly.
type Fees struct {
	Rate string `yaml:"rate"`
	Min  string `yaml:"min"`
	Max  string `yaml:"max"`
}

// Cache configures TTLs for the quote cache and the Redis read-through
// layer, in seconds.
type Cache struct {
	QuoteTTLSeconds int `yaml:"quote_ttl_seconds"`
	StoreTTLSeconds int `yaml:"store_ttl_seconds"`
}

// QuoteTTL returns the quote cache TTL.
func (c Cache) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSeconds) * time.Second
}

// StoreTTL returns the Redis read-through TTL.
func (c Cache) StoreTTL() time.Duration {
	return time.Duration(c.StoreTTLSeconds) * time.Second
}

// Ledger holds settlement-wide constants.
type Ledger struct {
	Currency string `yaml:"currency"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: Server{Port: "8080"},
		Fees:   Fees{Rate: "0.001", Min: "10", Max: "1000"},
		Cache:  Cache{QuoteTTLSeconds: 300, StoreTTLSeconds: 30},
		Ledger: Ledger{Currency: "USD"},
	}
}

// Load reads the YAML configuration file at path (when non-empty), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Environment overrides for deployment wiring.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server port is required")
	}
	if c.Ledger.Currency == "" {
		return fmt.Errorf("config: ledger currency is required")
	}
	rate, err := decimal.NewFromString(c.Fees.Rate)
	if err != nil || rate.IsNegative() {
		return fmt.Errorf("config: invalid fee rate %q", c.Fees.Rate)
	}
	min, err := decimal.NewFromString(c.Fees.Min)
	if err != nil || min.IsNegative() {
		return fmt.Errorf("config: invalid fee floor %q", c.Fees.Min)
	}
	max, err := decimal.NewFromString(c.Fees.Max)
	if err != nil || max.LessThan(min) {
		return fmt.Errorf("config: invalid fee ceiling %q", c.Fees.Max)
	}
	if c.Cache.QuoteTTLSeconds <= 0 || c.Cache.StoreTTLSeconds <= 0 {
		return fmt.Errorf("config: cache TTLs must be positive")
	}
	return nil
}

// FeeSchedule returns the parsed fee parameters. validate has already
// checked they parse.
func (c *Config) FeeSchedule() (rate, min, max decimal.Decimal) {
	rate, _ = decimal.NewFromString(c.Fees.Rate)
	min, _ = decimal.NewFromString(c.Fees.Min)
	max, _ = decimal.NewFromString(c.Fees.Max)
	return rate, min, max
}
