package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration for the mailtriage engine
type Config struct {
	Credentials string `json:"credentials"`
	Token       string `json:"token"`

	// Shared document store and local message cache locations
	DocumentDB string `json:"document_db"`
	MessageDB  string `json:"message_db"`

	// Path to the YAML queue-ordering file
	QueuesFile string `json:"queues_file"`

	// Vacation mode: when set, triage shows only threads with this label and
	// the todo list shows only Must do / Pin priorities
	VacationLabel string `json:"vacation_label,omitempty"`

	// Per-priority allowed counts used by consumers to flag overflow, not to
	// hide items. 0 means no limit.
	AllowedPinCount    int `json:"allowed_pin_count,omitempty"`
	AllowedMustDoCount int `json:"allowed_must_do_count,omitempty"`
	AllowedUrgentCount int `json:"allowed_urgent_count,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	dir := defaultConfigDir()
	return &Config{
		Credentials: filepath.Join(dir, "credentials.json"),
		Token:       filepath.Join(dir, "token.json"),
		DocumentDB:  filepath.Join(dir, "documents.db"),
		MessageDB:   filepath.Join(dir, "messages.db"),
		QueuesFile:  filepath.Join(dir, "queues.yaml"),
		LogLevel:    "info",
	}
}

// LoadConfig loads configuration from a JSON file, filling unset fields with
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default config file location, honoring the
// MAILTRIAGE_CONFIG environment variable.
func DefaultConfigPath() string {
	if env := os.Getenv("MAILTRIAGE_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(defaultConfigDir(), "config.json")
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtriage")
}
