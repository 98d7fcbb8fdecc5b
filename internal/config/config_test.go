package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
server:
  host: "0.0.0.0"
  port: 8080
source: "alpaca"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
  rate_limit_per_min: 150
remote:
  base_url: "http://gateway.internal:8950"
logging:
  level: "debug"
  file: "/var/log/quotedeck.log"
  max_size_mb: 50
`)

	tmpFile, err := os.CreateTemp("", "quotedeck-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	for _, k := range []string{
		"QUOTEDECK_ADDR", "QUOTEDECK_SOURCE", "QUOTEDECK_FEED",
		"QUOTEDECK_REMOTE_URL", "QUOTEDECK_LOG_LEVEL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		os.Unsetenv(k)
	}

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Server --
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8080")
	}

	// -- Source --
	if cfg.Source != "alpaca" {
		t.Errorf("Source = %q, want %q", cfg.Source, "alpaca")
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}
	if cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "sip")
	}
	if cfg.Alpaca.RateLimitPerMin != 150 {
		t.Errorf("Alpaca.RateLimitPerMin = %d, want %d", cfg.Alpaca.RateLimitPerMin, 150)
	}

	// -- Remote --
	if cfg.Remote.BaseURL != "http://gateway.internal:8950" {
		t.Errorf("Remote.BaseURL = %q, want %q", cfg.Remote.BaseURL, "http://gateway.internal:8950")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.File != "/var/log/quotedeck.log" {
		t.Errorf("Logging.File = %q, want %q", cfg.Logging.File, "/var/log/quotedeck.log")
	}
	if cfg.Logging.MaxSizeMB != 50 {
		t.Errorf("Logging.MaxSizeMB = %d, want %d", cfg.Logging.MaxSizeMB, 50)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	os.Unsetenv("QUOTEDECK_SOURCE")
	os.Unsetenv("QUOTEDECK_ADDR")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() on a missing file returned error: %v", err)
	}
	if cfg.Source != "sim" {
		t.Errorf("default Source = %q, want %q", cfg.Source, "sim")
	}
	if cfg.Server.Port != 8950 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8950)
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("default Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
source: "sim"
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
`)

	tmpFile, err := os.CreateTemp("", "quotedeck-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("QUOTEDECK_SOURCE", "remote")
	t.Setenv("QUOTEDECK_ADDR", "127.0.0.1:9001")
	t.Setenv("APCA_API_KEY_ID", "env-key")
	os.Unsetenv("APCA_API_SECRET_KEY")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Source != "remote" {
		t.Errorf("Source = %q, want %q (env override)", cfg.Source, "remote")
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9001 {
		t.Errorf("Server = %s, want 127.0.0.1:9001 (env override)", cfg.Server.Addr())
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
}
