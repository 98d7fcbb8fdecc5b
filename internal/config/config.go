package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quotedeck.
type Config struct {
	Server  Server  `yaml:"server"`
	Source  string  `yaml:"source"` // sim | alpaca | remote
	Alpaca  Alpaca  `yaml:"alpaca"`
	Remote  Remote  `yaml:"remote"`
	Logging Logging `yaml:"logging"`
}

// Server holds the gateway listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Alpaca holds credentials and parameters for the upstream market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	Feed            string `yaml:"feed"` // iex | sip
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Remote points a client at a quotedeck gateway.
type Remote struct {
	BaseURL string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is present: a
// simulated source on the loopback gateway address.
func Default() *Config {
	return &Config{
		Server: Server{Host: "127.0.0.1", Port: 8950},
		Source: "sim",
		Alpaca: Alpaca{Feed: "iex", RateLimitPerMin: 200},
		Remote: Remote{BaseURL: "http://127.0.0.1:8950"},
		Logging: Logging{
			Level: "info",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and applies environment variable overrides. A missing file
// is not an error: the defaults are returned with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUOTEDECK_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Host = host
				cfg.Server.Port = p
			}
		}
	}
	if v := os.Getenv("QUOTEDECK_SOURCE"); v != "" {
		cfg.Source = v
	}
	if v := os.Getenv("QUOTEDECK_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}
	if v := os.Getenv("QUOTEDECK_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("QUOTEDECK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca env vars used by the SDK; credentials never live in
	// the YAML file in deployments.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
