// Package config holds the adapter settings: where RethinkDB lives, how the
// connection pool is sized and how collections are migrated.
//
// Settings come from a JSON, YAML or TOML file, from an options map (the
// adapter's Configure) and from RETHINKDB_* environment variables. All of
// them are decoded the same way, so keys and duration strings ("30s") are
// interchangeable between sources.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	MigrateSafe  = "safe"
	MigrateAlter = "alter"
	MigrateDrop  = "drop"
)

// Config represents the configuration values.
type Config struct {
	Host     string        `mapstructure:"host" json:"host"`
	Port     int           `mapstructure:"port" json:"port"`
	DB       string        `mapstructure:"db" json:"db"`
	AuthKey  string        `mapstructure:"authKey" json:"authKey,omitempty"`
	Username string        `mapstructure:"username" json:"username,omitempty"`
	Password string        `mapstructure:"password" json:"-"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`

	Min          int           `mapstructure:"min" json:"min"`                   // connections kept open
	Max          int           `mapstructure:"max" json:"max"`                   // hard cap on open connections
	MaxIdle      int           `mapstructure:"maxIdle" json:"maxIdle,omitempty"` // max if zero
	IdleTimeout  time.Duration `mapstructure:"idleTimeout" json:"idleTimeout"`
	ReapInterval time.Duration `mapstructure:"reapInterval" json:"reapInterval"`
	WaitTimeout  time.Duration `mapstructure:"waitTimeout" json:"waitTimeout"`

	// drop   => Drop schema and data, then recreate it
	// alter  => Create missing tables and indexes
	// safe   => Don't change anything (good for production DBs)
	Migrate  string `mapstructure:"migrate" json:"migrate"`
	LogLevel string `mapstructure:"logLevel" json:"logLevel"`
}

// Default returns the settings used for every key a source leaves out.
func Default() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         28015,
		DB:           "test",
		Timeout:      10 * time.Second,
		Min:          2,
		Max:          10,
		IdleTimeout:  30 * time.Second,
		ReapInterval: time.Second,
		WaitTimeout:  3 * time.Second,
		Migrate:      MigrateAlter,
		LogLevel:     "info",
	}
}

// Address is the host:port the driver dials.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("config: host can't be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Max < 1 {
		return errors.New("config: max can't be less than 1")
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("config: min must be between 0 and max (%d)", c.Max)
	}
	if c.MaxIdle != 0 && (c.MaxIdle < c.Min || c.MaxIdle > c.Max) {
		return errors.New("config: maxIdle must be between min and max")
	}
	if c.IdleTimeout < 0 || c.ReapInterval < 0 || c.WaitTimeout < 0 || c.Timeout < 0 {
		return errors.New("config: durations can't be negative")
	}
	switch c.Migrate {
	case MigrateSafe, MigrateAlter, MigrateDrop:
	default:
		return fmt.Errorf("config: unknown migrate mode %q", c.Migrate)
	}
	return nil
}
