package main

import (
	"fmt"
	"os"
	"strings"

	"storewatch/config"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPPort int    `toml:"http_port"`
	DataDir  string `toml:"data_dir"`
}

// ReportsConfig holds report lifecycle settings.
type ReportsConfig struct {
	Dir                 string `toml:"dir"`
	StaleTTLMins        int    `toml:"stale_ttl_mins"`
	JanitorIntervalMins int    `toml:"janitor_interval_mins"`
}

// IngestConfig holds the CSV ingest settings.
type IngestConfig struct {
	StatusURL    string `toml:"status_url"`
	MenuHoursURL string `toml:"menu_hours_url"`
	TimezonesURL string `toml:"timezones_url"`
	IntervalMins int    `toml:"interval_mins"`
	Enabled      bool   `toml:"enabled"`
}

// Config is the root configuration for the storewatch server.
type Config struct {
	Server   ServerConfig          `toml:"server"`
	Database config.DatabaseConfig `toml:"database"`
	Logging  config.LoggingConfig  `toml:"logging"`
	Reports  ReportsConfig         `toml:"reports"`
	Ingest   IngestConfig          `toml:"ingest"`
	Debug    bool                  `toml:"debug"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: 8000,
			DataDir:  "data",
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/storewatch.db",
		},
		Logging: config.LoggingConfig{
			Level: "INFO",
			Dir:   "logs",
		},
		Reports: ReportsConfig{
			Dir:                 "data/reports",
			StaleTTLMins:        30,
			JanitorIntervalMins: 5,
		},
		Ingest: IngestConfig{
			IntervalMins: 60,
			Enabled:      true,
		},
	}
}

// LoadConfig reads the TOML config at path, writing the defaults first if
// the file does not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.WriteDefaultTOML(path, cfg); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	} else if err := config.LoadTOML(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the file values.
func (c *Config) applyEnvOverrides() {
	config.ApplyDatabaseEnvOverrides(&c.Database)
	config.ApplyLoggingEnvOverrides(&c.Logging)

	if val := os.Getenv("SERVER_HTTP_PORT"); val != "" {
		var port int
		if _, err := fmt.Sscanf(val, "%d", &port); err == nil {
			c.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("DEBUG"); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			c.Debug = true
		case "0", "false", "no", "off":
			c.Debug = false
		}
	}
}
