// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAI(t *testing.T) {
	p, err := New(ModelConfig{Provider: ProviderOpenAI, Model: "gpt-4o"}, "sk-test", "")
	require.NoError(t, err)

	openai, ok := p.(*OpenAIProvider)
	require.True(t, ok)
	assert.Equal(t, DefaultOpenAIBaseURL, openai.baseURL)
}

func TestNewOpenAIBaseURLOverride(t *testing.T) {
	p, err := New(ModelConfig{Provider: ProviderOpenAI, Model: "gpt-4o"}, "sk-test", "http://proxy:8080/v1/")
	require.NoError(t, err)

	openai := p.(*OpenAIProvider)
	assert.Equal(t, "http://proxy:8080/v1", openai.baseURL)
}

func TestNewAnthropic(t *testing.T) {
	p, err := New(ModelConfig{Provider: ProviderAnthropic, Model: "claude-sonnet-4"}, "sk-ant", "")
	require.NoError(t, err)

	anthropic, ok := p.(*AnthropicProvider)
	require.True(t, ok)
	assert.Equal(t, DefaultAnthropicBaseURL, anthropic.baseURL)
}

func TestNewLocalNeedsNoKey(t *testing.T) {
	p, err := New(ModelConfig{Provider: ProviderLocal, Model: "llama3.2"}, "", "")
	require.NoError(t, err)

	local, ok := p.(*LocalProvider)
	require.True(t, ok)
	assert.Equal(t, DefaultLocalBaseURL, local.baseURL)
}

func TestNewMissingAPIKey(t *testing.T) {
	for _, name := range []Name{ProviderOpenAI, ProviderAnthropic} {
		p, err := New(ModelConfig{Provider: name, Model: "m"}, "", "")
		assert.Nil(t, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
		assert.True(t, IsConfigError(err))

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, name, cfgErr.Provider)
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	p, err := New(ModelConfig{Provider: "cohere", Model: "m"}, "key", "")
	assert.Nil(t, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	assert.True(t, IsConfigError(err))
}

func TestRequiresAPIKey(t *testing.T) {
	assert.True(t, ProviderOpenAI.RequiresAPIKey())
	assert.True(t, ProviderAnthropic.RequiresAPIKey())
	assert.False(t, ProviderLocal.RequiresAPIKey())
}
