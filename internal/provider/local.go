// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/codeloom/codeloom/internal/transport"
)

// DefaultLocalBaseURL is the standard Ollama loopback address.
// Uses the explicit IPv4 address instead of localhost to avoid IPv6
// resolution issues on Windows.
const DefaultLocalBaseURL = "http://127.0.0.1:11434"

// =============================================================================
// WIRE TYPES (Ollama mode)
// =============================================================================

// ollamaGenerateRequest is the body for the /api/generate endpoint. Ollama
// takes a single prompt plus an optional system string rather than a
// message array.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// ollamaOptions carries sampling parameters in Ollama's naming.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  *int    `json:"num_predict,omitempty"`
}

// ollamaGenerateFrame is one newline-delimited JSON frame from a streaming
// generate call; the final frame has Done set. The same shape, with the
// full text in Response, is the non-streaming reply.
type ollamaGenerateFrame struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// =============================================================================
// LOCAL PROVIDER
// =============================================================================

// LocalProvider talks to a model server on the local machine. Two wire
// dialects are supported, selected by inspecting the base URL:
//
//   - Ollama (/api/generate, newline-delimited JSON) when the URL points
//     at the standard Ollama port or mentions "ollama"
//   - OpenAI-compatible (/v1/chat/completions, SSE) for everything else,
//     e.g. LM Studio or llama.cpp's server
type LocalProvider struct {
	config  ModelConfig
	baseURL string
}

// newLocalProvider constructs the adapter. An empty baseURL falls back to
// the standard Ollama loopback address.
func newLocalProvider(config ModelConfig, baseURL string) *LocalProvider {
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	return &LocalProvider{
		config:  config,
		baseURL: trimSlash(baseURL),
	}
}

// isOllama reports whether the base URL selects the Ollama dialect.
func (p *LocalProvider) isOllama() bool {
	return strings.Contains(p.baseURL, "localhost:11434") ||
		strings.Contains(p.baseURL, "127.0.0.1:11434") ||
		strings.Contains(p.baseURL, "ollama")
}

// buildGenerateRequest maps a message list onto Ollama's prompt/system
// shape: the system message feeds the system field, the last user message
// becomes the prompt.
func (p *LocalProvider) buildGenerateRequest(messages []Message, stream bool) ollamaGenerateRequest {
	system, conversation := splitSystemMessage(messages)

	prompt := ""
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == RoleUser {
			prompt = conversation[i].Content
			break
		}
	}

	return ollamaGenerateRequest{
		Model:  p.config.Model,
		Prompt: prompt,
		System: system,
		Stream: stream,
		Options: &ollamaOptions{
			Temperature: p.config.EffectiveTemperature(),
			NumPredict:  p.config.MaxTokens,
		},
	}
}

// buildCompatRequest builds the OpenAI-compatible body for non-Ollama
// local servers.
func (p *LocalProvider) buildCompatRequest(messages []Message, stream bool) openAIChatRequest {
	return openAIChatRequest{
		Model:       p.config.Model,
		Messages:    messages,
		Temperature: p.config.EffectiveTemperature(),
		MaxTokens:   p.config.MaxTokens,
		Stream:      stream,
	}
}

// Chat issues a single non-streaming request in the dialect the base URL
// selects.
func (p *LocalProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if p.isOllama() {
		return p.chatOllama(ctx, messages)
	}
	return p.chatCompat(ctx, messages)
}

func (p *LocalProvider) chatOllama(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := postJSON(ctx, ProviderLocal, p.baseURL+"/api/generate", p.buildGenerateRequest(messages, false), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var frame ollamaGenerateFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Ollama reports eval counts rather than token usage; leave Usage nil.
	return &Response{Content: frame.Response}, nil
}

func (p *LocalProvider) chatCompat(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := postJSON(ctx, ProviderLocal, p.baseURL+"/v1/chat/completions", p.buildCompatRequest(messages, false), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeOpenAIResponse(resp.Body)
}

// StreamChat issues a streaming request and returns the delta sequence.
func (p *LocalProvider) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	if p.isOllama() {
		return p.streamOllama(ctx, messages)
	}
	return p.streamCompat(ctx, messages)
}

func (p *LocalProvider) streamCompat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	resp, err := postJSONStream(ctx, ProviderLocal, p.baseURL+"/v1/chat/completions", p.buildCompatRequest(messages, true), streamHeaders(nil))
	if err != nil {
		return nil, err
	}

	return pumpOpenAIStream(ctx, ProviderLocal, resp), nil
}

func (p *LocalProvider) streamOllama(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	resp, err := postJSONStream(ctx, ProviderLocal, p.baseURL+"/api/generate", p.buildGenerateRequest(messages, true), nil)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := transport.NewJSONLinesReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			raw, err := reader.Next()
			if err != nil {
				if err == io.EOF {
					emit(ctx, out, StreamChunk{Done: true})
					return
				}
				emit(ctx, out, StreamChunk{Err: err, Done: true})
				return
			}

			var frame ollamaGenerateFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}

			if frame.Response != "" {
				if !emit(ctx, out, StreamChunk{Content: frame.Response}) {
					return
				}
			}

			if frame.Done {
				emit(ctx, out, StreamChunk{Done: true})
				return
			}
		}
	}()

	return out, nil
}
