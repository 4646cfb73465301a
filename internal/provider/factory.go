// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

// =============================================================================
// FACTORY
// =============================================================================

// New constructs the adapter for cfg.Provider. Construction is pure: no
// network traffic happens until Chat or StreamChat is called. apiKey and
// baseURL may be empty where the provider does not need them; a cloud
// provider with an empty apiKey fails here with a ConfigError rather than
// at request time.
func New(cfg ModelConfig, apiKey, baseURL string) (Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, &ConfigError{Provider: ProviderOpenAI, Err: ErrMissingAPIKey}
		}
		p := newOpenAIProvider(cfg, apiKey)
		if baseURL != "" {
			p = p.WithBaseURL(baseURL)
		}
		return p, nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, &ConfigError{Provider: ProviderAnthropic, Err: ErrMissingAPIKey}
		}
		p := newAnthropicProvider(cfg, apiKey)
		if baseURL != "" {
			p = p.WithBaseURL(baseURL)
		}
		return p, nil

	case ProviderLocal:
		return newLocalProvider(cfg, baseURL), nil

	default:
		return nil, &ConfigError{Provider: cfg.Provider, Err: ErrUnsupportedProvider}
	}
}
