// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/codeloom/codeloom/internal/transport"
)

// Anthropic API constants.
const (
	// DefaultAnthropicBaseURL is the hosted Anthropic API endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"

	// anthropicVersion is the mandatory API version header value.
	anthropicVersion = "2023-06-01"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// anthropicChatRequest is the request body for the messages endpoint.
// Unlike the OpenAI shape, the system prompt lives in a dedicated top-level
// field and max_tokens is mandatory.
type anthropicChatRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
}

// anthropicChatResponse is the non-streaming response body.
type anthropicChatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicStreamFrame is one decoded SSE data payload. Only frames with
// type "content_block_delta" carry text.
type anthropicStreamFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// =============================================================================
// ANTHROPIC PROVIDER
// =============================================================================

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	config  ModelConfig
	apiKey  string
	baseURL string
}

// newAnthropicProvider constructs the adapter. Called by New, which has
// already verified the credential is present.
func newAnthropicProvider(config ModelConfig, apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		config:  config,
		apiKey:  apiKey,
		baseURL: DefaultAnthropicBaseURL,
	}
}

// WithBaseURL overrides the API endpoint, for tests and proxies.
func (p *AnthropicProvider) WithBaseURL(url string) *AnthropicProvider {
	p.baseURL = trimSlash(url)
	return p
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// buildRequest assembles the request body. The system message is hoisted
// out of the message array; remaining messages are remapped so only user
// and assistant roles survive, as the API requires.
func (p *AnthropicProvider) buildRequest(messages []Message, stream bool) anthropicChatRequest {
	system, conversation := splitSystemMessage(messages)

	maxTokens := DefaultAnthropicMaxTokens
	if p.config.MaxTokens != nil {
		maxTokens = *p.config.MaxTokens
	}

	return anthropicChatRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		Temperature: p.config.EffectiveTemperature(),
		System:      system,
		Messages:    conversation,
		Stream:      stream,
	}
}

// Chat issues a single non-streaming request.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := postJSON(ctx, ProviderAnthropic, p.baseURL+"/messages", p.buildRequest(messages, false), p.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp anthropicChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	if len(chatResp.Content) > 0 {
		content = chatResp.Content[0].Text
	}

	var usage *Usage
	if chatResp.Usage != nil {
		usage = &Usage{
			PromptTokens:     chatResp.Usage.InputTokens,
			CompletionTokens: chatResp.Usage.OutputTokens,
			TotalTokens:      chatResp.Usage.InputTokens + chatResp.Usage.OutputTokens,
		}
	}

	return &Response{Content: content, Usage: usage}, nil
}

// StreamChat issues a streaming request and returns the delta sequence.
// Frames other than content_block_delta (message_start, ping, ...) carry
// no text and produce nothing.
func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	resp, err := postJSONStream(ctx, ProviderAnthropic, p.baseURL+"/messages", p.buildRequest(messages, true), streamHeaders(p.headers()))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := transport.NewSSEReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			payload, err := reader.Next()
			if err != nil {
				if err == io.EOF {
					emit(ctx, out, StreamChunk{Done: true})
					return
				}
				emit(ctx, out, StreamChunk{Err: err, Done: true})
				return
			}

			if transport.IsDone(payload) {
				emit(ctx, out, StreamChunk{Done: true})
				return
			}

			var frame anthropicStreamFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				continue
			}

			if frame.Type != "content_block_delta" {
				continue
			}

			if frame.Delta.Text != "" {
				if !emit(ctx, out, StreamChunk{Content: frame.Delta.Text}) {
					return
				}
			}
		}
	}()

	return out, nil
}

// splitSystemMessage extracts the system prompt from a message list. The
// remaining conversation keeps its order with every non-assistant role
// coerced to user.
func splitSystemMessage(messages []Message) (string, []Message) {
	system := ""
	conversation := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system == "" {
				system = msg.Content
			}
			continue
		}

		role := RoleUser
		if msg.Role == RoleAssistant {
			role = RoleAssistant
		}
		conversation = append(conversation, Message{Role: role, Content: msg.Content})
	}

	return system, conversation
}
