// Package config handles loading, validating, and writing the auditchain
// server configuration from ~/.auditchain/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - Ledger directory override
//   - Background verification sweep (interval + auto-freeze)
//   - Dashboard toggle
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level auditchain configuration.
// Loaded from ~/.auditchain/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Verification VerificationConfig `yaml:"verification"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
}

// ServerConfig defines where the server listens.
// Default: 127.0.0.1:3180 (loopback only — never bind to 0.0.0.0).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LedgerConfig controls where chain files and the query index live.
// An empty Dir means "<config-dir>/ledger".
type LedgerConfig struct {
	Dir string `yaml:"dir"`
}

// VerificationConfig controls the background verification sweep: the
// running server re-verifies every organization's chain on this interval
// and records the outcome in the registry.
//
// IntervalMinutes=0 disables the sweep. AutoFreeze=true freezes an
// organization's ingest automatically when its chain fails verification.
type VerificationConfig struct {
	IntervalMinutes int  `yaml:"intervalMinutes"`
	AutoFreeze      bool `yaml:"autoFreeze"`
}

// DashboardConfig controls the web dashboard served at /dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `auditchain` interactive setup creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated and
// a comment header. Used by the first-run setup and `auditchain config
// edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# auditchain Server Configuration
#
# server:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 3180)
#
# ledger:
#   dir: Chain file directory (default: <config-dir>/ledger)
#
# verification:
#   intervalMinutes: Re-verify every chain on this interval (0 = disabled)
#   autoFreeze: Freeze ingest for organizations whose chain fails verification
#
# dashboard:
#   enabled: Serve web UI at /dashboard on the same port

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their defaults.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3180,
		},
		Verification: VerificationConfig{
			IntervalMinutes: 60,
			AutoFreeze:      false,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	if cfg.Verification.IntervalMinutes < 0 {
		return fmt.Errorf("verification.intervalMinutes must be non-negative")
	}
	return nil
}
