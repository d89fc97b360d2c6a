// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete rigchat configuration.
type Config struct {
	Version string `toml:"version"`

	API     APIConfig     `toml:"api"`
	Cache   CacheConfig   `toml:"cache"`
	Tasks   TasksConfig   `toml:"tasks"`
	History HistoryConfig `toml:"history"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	// BaseURL is the backend base URL.
	BaseURL string `toml:"base_url"`
	// Key is the API key. Usually supplied via RIGCHAT_API_KEY rather
	// than the file.
	Key string `toml:"key"`
	// Model is the chat completion model (empty = server default).
	Model string `toml:"model"`
	// MaxRetries is the retry budget for transient request failures.
	MaxRetries int `toml:"max_retries"`
}

// CacheConfig bounds the in-memory stores.
type CacheConfig struct {
	// MaxConversations is the message cache bound.
	MaxConversations int `toml:"max_conversations"`
	// MaxRuntimeConversations is the idle runtime state bound.
	MaxRuntimeConversations int `toml:"max_runtime_conversations"`
}

// TasksConfig tunes generation tracking.
type TasksConfig struct {
	// PollIntervalSecs is the pause between task status probes.
	PollIntervalSecs int `toml:"poll_interval_secs"`
	// MaxGlobal bounds outstanding generations across conversations.
	MaxGlobal int `toml:"max_global"`
	// MaxPerConversation bounds outstanding generations per conversation.
	MaxPerConversation int `toml:"max_per_conversation"`
}

// HistoryConfig controls local transcript persistence.
type HistoryConfig struct {
	// Enabled turns the SQLite history store on.
	Enabled bool `toml:"enabled"`
	// Path is the database file (empty = ~/.rigchat/history.db).
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		API: APIConfig{
			BaseURL:    "https://api.rigchat.local",
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			MaxConversations:        10,
			MaxRuntimeConversations: 20,
		},
		Tasks: TasksConfig{
			PollIntervalSecs:   3,
			MaxGlobal:          15,
			MaxPerConversation: 5,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Dir returns the rigchat configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// Path returns the configuration file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// HistoryPath resolves the history database path for the config.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the default config file, fills defaults, and applies
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads a specific file with defaults and env overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults replaces zero values with the built-in defaults so a
// sparse file still yields a usable config.
func (c *Config) fillDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.MaxRetries <= 0 {
		c.API.MaxRetries = def.API.MaxRetries
	}
	if c.Cache.MaxConversations <= 0 {
		c.Cache.MaxConversations = def.Cache.MaxConversations
	}
	if c.Cache.MaxRuntimeConversations <= 0 {
		c.Cache.MaxRuntimeConversations = def.Cache.MaxRuntimeConversations
	}
	if c.Tasks.PollIntervalSecs <= 0 {
		c.Tasks.PollIntervalSecs = def.Tasks.PollIntervalSecs
	}
	if c.Tasks.MaxGlobal <= 0 {
		c.Tasks.MaxGlobal = def.Tasks.MaxGlobal
	}
	if c.Tasks.MaxPerConversation <= 0 {
		c.Tasks.MaxPerConversation = def.Tasks.MaxPerConversation
	}
}

// ApplyEnvOverrides applies RIGCHAT_* environment variables on top of
// the file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("RIGCHAT_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("RIGCHAT_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("RIGCHAT_HISTORY"); v != "" {
		c.History.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RIGCHAT_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tasks.PollIntervalSecs = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "api.base_url", Message: "must be an absolute URL"}
	}
	if c.Tasks.MaxPerConversation > c.Tasks.MaxGlobal {
		return ValidationError{
			Field:   "tasks.max_per_conversation",
			Message: fmt.Sprintf("cannot exceed tasks.max_global (%d)", c.Tasks.MaxGlobal),
		}
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the default path with owner-only
// permissions; the file may carry the API key.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a specific file.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
