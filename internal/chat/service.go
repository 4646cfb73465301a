// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat assembles and runs chat turns: it resolves the workspace's
// agent, credential, and memory context, builds the outbound message list,
// and hands the turn to the right provider adapter.
package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/codeloom/codeloom/internal/config"
	"github.com/codeloom/codeloom/internal/provider"
	"github.com/codeloom/codeloom/internal/store"
)

// Request is one chat turn from a client.
type Request struct {
	ConversationID string             `json:"conversation_id"`
	WorkspaceID    string             `json:"workspace_id"`
	ProjectID      string             `json:"project_id"`
	Message        string             `json:"message"`
	History        []provider.Message `json:"history"`
}

// Service runs chat turns against the configured providers.
type Service struct {
	cfg   atomic.Pointer[config.Config]
	store *store.Store
}

// NewService creates the chat service. The store may be nil, in which case
// only config fallbacks and environment credentials are used.
func NewService(cfg *config.Config, st *store.Store) *Service {
	s := &Service{store: st}
	s.cfg.Store(cfg)
	return s
}

// UpdateConfig swaps the configuration. In-flight turns keep the config
// they started with.
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

func (s *Service) config() *config.Config {
	return s.cfg.Load()
}

// Stream runs a turn and returns the delta stream. Resolution and the
// upstream HTTP call happen before the channel exists, so configuration
// and upstream failures surface here, never mid-stream.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan provider.StreamChunk, error) {
	p, messages, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.StreamChat(ctx, messages)
}

// Complete runs a turn without streaming.
func (s *Service) Complete(ctx context.Context, req Request) (*provider.Response, error) {
	p, messages, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Chat(ctx, messages)
}

// resolve turns a request into a ready provider and message list.
func (s *Service) resolve(ctx context.Context, req Request) (provider.Provider, []provider.Message, error) {
	cfg := s.config()

	systemPrompt, modelCfg := s.resolveAgent(ctx, cfg, req.WorkspaceID)

	memory, err := s.memoryContext(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	apiKey, err := s.resolveCredential(ctx, cfg, req.WorkspaceID, modelCfg.Provider)
	if err != nil {
		return nil, nil, err
	}

	baseURL := ""
	if modelCfg.Provider == provider.ProviderLocal {
		baseURL = cfg.Local.BaseURL
	}

	p, err := provider.New(modelCfg, apiKey, baseURL)
	if err != nil {
		return nil, nil, err
	}

	return p, BuildMessages(systemPrompt, memory, req.History, req.Message), nil
}

// resolveAgent returns the workspace default agent's prompt and model
// config, falling back to the configured defaults when none is stored.
func (s *Service) resolveAgent(ctx context.Context, cfg *config.Config, workspaceID string) (string, provider.ModelConfig) {
	if s.store != nil && workspaceID != "" {
		if agent, err := s.store.DefaultAgent(ctx, workspaceID); err == nil {
			return agent.SystemPrompt, provider.ModelConfig{
				Provider:    provider.Name(agent.Provider),
				Model:       agent.Model,
				Temperature: agent.Temperature,
				MaxTokens:   agent.MaxTokens,
			}
		}
	}

	modelCfg := provider.ModelConfig{
		Provider: provider.Name(cfg.Chat.Provider),
		Model:    cfg.Chat.Model,
	}
	if cfg.Chat.Temperature != 0 {
		temp := cfg.Chat.Temperature
		modelCfg.Temperature = &temp
	}
	if cfg.Chat.MaxTokens > 0 {
		maxTokens := cfg.Chat.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}

	prompt := cfg.Chat.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful AI coding assistant."
	}
	return prompt, modelCfg
}

// memoryContext fetches the workspace facts relevant to the turn.
func (s *Service) memoryContext(ctx context.Context, req Request) ([]store.MemoryEntry, error) {
	if s.store == nil || req.WorkspaceID == "" {
		return nil, nil
	}
	entries, err := s.store.MemoryContext(ctx, req.WorkspaceID, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory context: %w", err)
	}
	return entries, nil
}

// resolveCredential finds the API key for a provider: the workspace's
// stored key first, then the configured environment variable. The local
// provider needs none. An empty result for a cloud provider becomes a
// ConfigError in the factory.
func (s *Service) resolveCredential(ctx context.Context, cfg *config.Config, workspaceID string, name provider.Name) (string, error) {
	if !name.RequiresAPIKey() {
		return "", nil
	}

	if s.store != nil && workspaceID != "" {
		key, err := s.store.ActiveKey(ctx, workspaceID, string(name))
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && err != store.ErrNotFound {
			return "", fmt.Errorf("failed to load api key: %w", err)
		}
	}

	switch name {
	case provider.ProviderOpenAI:
		return os.Getenv(cfg.Providers.OpenAIKeyEnv), nil
	case provider.ProviderAnthropic:
		return os.Getenv(cfg.Providers.AnthropicKeyEnv), nil
	}
	return "", nil
}

// BuildMessages assembles the outbound message list: one merged system
// message first, the prior history in order, the new user message last.
func BuildMessages(systemPrompt string, memory []store.MemoryEntry, history []provider.Message, userMessage string) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.NewSystemMessage(mergeSystemPrompt(systemPrompt, memory)))
	messages = append(messages, history...)
	messages = append(messages, provider.NewUserMessage(userMessage))
	return messages
}

// mergeSystemPrompt appends the memory context to the system prompt as a
// Project Context block.
func mergeSystemPrompt(systemPrompt string, memory []store.MemoryEntry) string {
	if len(memory) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nProject Context:\n")
	for _, entry := range memory {
		b.WriteString(entry.Key)
		b.WriteString(": ")
		b.WriteString(entry.Value)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
