// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for codeloom.
//
// Configuration comes from ~/.codeloom/config.toml with sensible defaults,
// environment variable overrides, and validation. The file can be watched
// for changes so a running gateway picks up edits without a restart.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/codeloom/codeloom/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codeloom configuration.
type Config struct {
	Version string `toml:"version"`

	Server    ServerConfig    `toml:"server"`
	Chat      ChatConfig      `toml:"chat"`
	Local     LocalConfig     `toml:"local"`
	Providers ProvidersConfig `toml:"providers"`
	Storage   StorageConfig   `toml:"storage"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig contains HTTP gateway settings.
type ServerConfig struct {
	// Host is the listen address. Defaults to loopback only.
	Host string `toml:"host"`
	// Port is the listen port.
	Port int `toml:"port"`
	// RateLimitPerMinute caps chat requests per client IP. 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
	// ShutdownGraceSecs bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownGraceSecs int `toml:"shutdown_grace_secs"`
}

// ChatConfig contains the fallback agent used when a workspace has no
// default agent stored.
type ChatConfig struct {
	// Provider is the fallback provider tag: "openai", "anthropic", "local".
	Provider string `toml:"provider"`
	// Model is the fallback model name.
	Model string `toml:"model"`
	// SystemPrompt seeds the conversation when no agent overrides it.
	SystemPrompt string `toml:"system_prompt"`
	// Temperature is the fallback sampling temperature.
	Temperature float64 `toml:"temperature"`
	// MaxTokens caps the response length. 0 means provider default.
	MaxTokens int `toml:"max_tokens"`
}

// LocalConfig contains local model server settings.
type LocalConfig struct {
	// BaseURL is the local model server address.
	BaseURL string `toml:"base_url"`
}

// ProvidersConfig names the environment variables consulted when no stored
// API key matches the requested provider.
type ProvidersConfig struct {
	OpenAIKeyEnv    string `toml:"openai_key_env"`
	AnthropicKeyEnv string `toml:"anthropic_key_env"`
	// PassphraseEnv names the variable holding the passphrase that
	// encrypts stored API keys at rest.
	PassphraseEnv string `toml:"passphrase_env"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	// DBPath is the sqlite database file. Empty means
	// ~/.codeloom/codeloom.db.
	DBPath string `toml:"db_path"`
}

// LogConfig contains log file settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// FilePath is the log file. Empty means ~/.codeloom/codeloom.log.
	FilePath string `toml:"file_path"`
	// MaxSizeMB rotates the log file past this size.
	MaxSizeMB int `toml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups"`
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int `toml:"max_age_days"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8089,
			RateLimitPerMinute: 60,
			ShutdownGraceSecs:  10,
		},

		Chat: ChatConfig{
			Provider:     "local",
			Model:        "qwen2.5-coder:14b",
			SystemPrompt: "You are a helpful AI coding assistant.",
			Temperature:  0.7,
			MaxTokens:    0,
		},

		Local: LocalConfig{
			BaseURL: "http://127.0.0.1:11434",
		},

		Providers: ProvidersConfig{
			OpenAIKeyEnv:    "OPENAI_API_KEY",
			AnthropicKeyEnv: "ANTHROPIC_API_KEY",
			PassphraseEnv:   "CODELOOM_PASSPHRASE",
		},

		Storage: StorageConfig{
			DBPath: "",
		},

		Log: LogConfig{
			Level:      "info",
			FilePath:   "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codeloom configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codeloom"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// The config can hold secrets, so it must be owner read/write only.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when none exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path. A missing
// file is not an error: defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the config file with secure
// permissions.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// Atomic write so a crash mid-save never leaves a truncated config.
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies CODELOOM_* environment variables on top of the
// loaded values. Unset variables leave the config untouched.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CODELOOM_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CODELOOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CODELOOM_PROVIDER"); v != "" {
		c.Chat.Provider = v
	}
	if v := os.Getenv("CODELOOM_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CODELOOM_LOCAL_URL"); v != "" {
		c.Local.BaseURL = v
	}
	if v := os.Getenv("CODELOOM_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("CODELOOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"local":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: "must not be negative",
		})
	}
	if !validProviders[c.Chat.Provider] {
		errs = append(errs, ValidationError{
			Field:   "chat.provider",
			Message: fmt.Sprintf("must be one of openai, anthropic, local; got %q", c.Chat.Provider),
		})
	}
	if c.Chat.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "chat.model",
			Message: "must not be empty",
		})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("must be 0-2, got %g", c.Chat.Temperature),
		})
	}
	if c.Chat.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "chat.max_tokens",
			Message: "must not be negative",
		})
	}
	if !validLogLevels[c.Log.Level] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error; got %q", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// DatabasePath resolves the sqlite file, defaulting under the config dir.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "codeloom.db"), nil
}

// LogFilePath resolves the log file, defaulting under the config dir.
func (c *Config) LogFilePath() (string, error) {
	if c.Log.FilePath != "" {
		return c.Log.FilePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "codeloom.log"), nil
}

// ListenAddr formats the host:port listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ShutdownGrace returns the graceful shutdown window.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSecs) * time.Second
}

// =============================================================================
// HOT RELOAD
// =============================================================================

// Watch monitors the config file and invokes onChange with each freshly
// loaded configuration. Editors often replace the file rather than write
// in place, so the watch is on the parent directory. Invalid intermediate
// states are skipped. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadFromPath(path)
			if err != nil {
				continue
			}
			onChange(cfg)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
