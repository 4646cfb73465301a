// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Chat.Provider)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Local.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Providers.OpenAIKeyEnv)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Providers.AnthropicKeyEnv)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfigFile(t, `
version = "1.0.0"

[server]
port = 9000
rate_limit_per_minute = 10

[chat]
provider = "anthropic"
model = "claude-sonnet-4"
system_prompt = "Be terse."
temperature = 0.3

[local]
base_url = "http://localhost:1234/v1"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "anthropic", cfg.Chat.Provider)
	assert.Equal(t, "claude-sonnet-4", cfg.Chat.Model)
	assert.Equal(t, 0.3, cfg.Chat.Temperature)
	assert.Equal(t, "http://localhost:1234/v1", cfg.Local.BaseURL)

	// Unspecified sections keep defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromPathInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
[chat]
provider = "cohere"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat.provider")
}

func TestLoadFixesPermissions(t *testing.T) {
	path := writeConfigFile(t, `[server]`+"\n"+`port = 9000`+"\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CODELOOM_PORT", "7777")
	t.Setenv("CODELOOM_PROVIDER", "openai")
	t.Setenv("CODELOOM_MODEL", "gpt-4o")
	t.Setenv("CODELOOM_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Chat.Provider)
	assert.Equal(t, "gpt-4o", cfg.Chat.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvOverridesIgnoresBadPort(t *testing.T) {
	t.Setenv("CODELOOM_PORT", "not-a-port")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, 8089, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "server.rate_limit_per_minute"},
		{"unknown provider", func(c *Config) { c.Chat.Provider = "gemini" }, "chat.provider"},
		{"empty model", func(c *Config) { c.Chat.Model = "" }, "chat.model"},
		{"temperature too high", func(c *Config) { c.Chat.Temperature = 2.5 }, "chat.temperature"},
		{"negative max tokens", func(c *Config) { c.Chat.MaxTokens = -1 }, "chat.max_tokens"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Chat.Model = ""

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8089", cfg.ListenAddr())
}

func TestDatabasePathOverride(t *testing.T) {
	cfg := Default()
	cfg.Storage.DBPath = "/tmp/custom.db"

	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", path)
}
