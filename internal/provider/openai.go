// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codeloom/codeloom/internal/transport"
)

// DefaultOpenAIBaseURL is the hosted OpenAI API endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// =============================================================================
// WIRE TYPES
// =============================================================================

// openAIChatRequest is the request body for the chat completions endpoint.
// The same shape is used by OpenAI-compatible local servers.
type openAIChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	Stream           bool      `json:"stream"`
}

// openAIChatResponse is the non-streaming response body.
type openAIChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// openAIStreamFrame is one decoded SSE data payload.
type openAIStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (f *openAIStreamFrame) content() string {
	if len(f.Choices) > 0 {
		return f.Choices[0].Delta.Content
	}
	return ""
}

// =============================================================================
// OPENAI PROVIDER
// =============================================================================

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	config  ModelConfig
	apiKey  string
	baseURL string
}

// newOpenAIProvider constructs the adapter. Called by New, which has
// already verified the credential is present.
func newOpenAIProvider(config ModelConfig, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		config:  config,
		apiKey:  apiKey,
		baseURL: DefaultOpenAIBaseURL,
	}
}

// WithBaseURL overrides the API endpoint, for tests and proxies.
func (p *OpenAIProvider) WithBaseURL(url string) *OpenAIProvider {
	p.baseURL = trimSlash(url)
	return p
}

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}
}

// buildRequest assembles the request body, merging configured defaults.
func (p *OpenAIProvider) buildRequest(messages []Message, stream bool) openAIChatRequest {
	return openAIChatRequest{
		Model:            p.config.Model,
		Messages:         messages,
		Temperature:      p.config.EffectiveTemperature(),
		MaxTokens:        p.config.MaxTokens,
		TopP:             p.config.TopP,
		FrequencyPenalty: p.config.FrequencyPenalty,
		PresencePenalty:  p.config.PresencePenalty,
		Stream:           stream,
	}
}

// Chat issues a single non-streaming completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := postJSON(ctx, ProviderOpenAI, p.baseURL+"/chat/completions", p.buildRequest(messages, false), p.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeOpenAIResponse(resp.Body)
}

// StreamChat issues a streaming completion request and returns the delta
// sequence. See the Provider interface for the streaming contract.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	resp, err := postJSONStream(ctx, ProviderOpenAI, p.baseURL+"/chat/completions", p.buildRequest(messages, true), streamHeaders(p.headers()))
	if err != nil {
		return nil, err
	}

	return pumpOpenAIStream(ctx, ProviderOpenAI, resp), nil
}

// decodeOpenAIResponse parses a non-streaming completion body.
func decodeOpenAIResponse(body io.Reader) (*Response, error) {
	var chatResp openAIChatResponse
	if err := json.NewDecoder(body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	if len(chatResp.Choices) > 0 {
		content = chatResp.Choices[0].Message.Content
	}

	return &Response{Content: content, Usage: chatResp.Usage}, nil
}

// pumpOpenAIStream converts an OpenAI-style SSE body into normalized
// chunks. Shared with the local adapter's OpenAI-compatible mode.
//
// The output channel is unbuffered: no upstream read happens until the
// consumer has drained the previous chunk.
func pumpOpenAIStream(ctx context.Context, name Name, resp *http.Response) <-chan StreamChunk {
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

			var frame openAIStreamFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				// Skip malformed frames: upstream noise, never fatal.
				continue
			}

			if content := frame.content(); content != "" {
				if !emit(ctx, out, StreamChunk{Content: content}) {
					return
				}
			}
		}
	}()

	return out
}

// trimSlash strips a trailing slash so URL joins stay predictable.
func trimSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
