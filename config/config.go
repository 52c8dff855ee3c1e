// Package config provides shared configuration utilities for storewatch.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DatabaseConfig holds database settings.
//
// Driver selects the backend: "postgres" (the production store, with
// TimescaleDB features when available) or "sqlite" (single-file store for
// development and tests). For postgres either DSN or the discrete
// Host/Port/User/Password/Name fields are used; for sqlite only Path.
type DatabaseConfig struct {
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	Path     string `toml:"path"`

	MaxOpenConns        int `toml:"max_open_conns"`
	MaxIdleConns        int `toml:"max_idle_conns"`
	ConnMaxLifetimeSecs int `toml:"conn_max_lifetime_secs"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// EffectiveDriver returns the configured driver, defaulting to sqlite.
func (c *DatabaseConfig) EffectiveDriver() string {
	if c.Driver != "" {
		return c.Driver
	}
	if c.Host != "" || c.Name != "" || c.DSN != "" {
		return "postgres"
	}
	return "sqlite"
}

// BuildDSN builds a connection string for the effective driver.
func (c *DatabaseConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.EffectiveDriver() {
	case "postgres", "postgresql":
		host := c.Host
		if host == "" {
			host = "localhost"
		}
		port := c.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", host, port),
			Path:   "/" + c.Name,
		}
		if c.User != "" {
			if c.Password != "" {
				u.User = url.UserPassword(c.User, c.Password)
			} else {
				u.User = url.User(c.User)
			}
		}
		q := u.Query()
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return c.Path
	}
}

// ApplyDatabaseEnvOverrides applies environment variable overrides for
// database settings. Any DB_* variable switches the effective driver to
// postgres unless a driver was set explicitly.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig) {
	if val := os.Getenv("DB_DRIVER"); val != "" {
		cfg.Driver = val
	}
	if val := os.Getenv("DB_USERNAME"); val != "" {
		cfg.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		cfg.Password = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		var port int
		if _, err := fmt.Sscanf(val, "%d", &port); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("DB_DATABASE"); val != "" {
		cfg.Name = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.Path = val
	}
}

// ApplyLoggingEnvOverrides applies environment variable overrides for logging.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Level = val
	}
}

// WriteDefaultTOML writes a default TOML configuration file with the provided structure
func WriteDefaultTOML(configPath string, config interface{}) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadTOML loads a TOML configuration file into the provided structure
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}
