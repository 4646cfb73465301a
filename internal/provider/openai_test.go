// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectStream drains a chunk channel, returning the assembled content and
// the raw chunk sequence.
func collectStream(t *testing.T, ch <-chan StreamChunk) (string, []StreamChunk) {
	t.Helper()

	var content strings.Builder
	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
		content.WriteString(chunk.Content)
	}
	return content.String(), chunks
}

// requireTerminal asserts the chunk sequence ends with exactly one terminal
// chunk and none appears earlier.
func requireTerminal(t *testing.T, chunks []StreamChunk) StreamChunk {
	t.Helper()

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.False(t, chunk.Done, "terminal chunk before end of stream")
		assert.NoError(t, chunk.Err)
	}
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	return last
}

func sseFrames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}

func openAIProviderFor(t *testing.T, url string, cfg ModelConfig) *OpenAIProvider {
	t.Helper()
	cfg.Provider = ProviderOpenAI
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return newOpenAIProvider(cfg, "sk-test").WithBaseURL(url)
}

func TestOpenAIChat(t *testing.T) {
	var gotBody openAIChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer server.Close()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	resp, err := p.Chat(context.Background(), []Message{
		NewSystemMessage("You are terse."),
		NewUserMessage("Hi"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.False(t, gotBody.Stream)
	assert.Equal(t, DefaultTemperature, gotBody.Temperature)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, RoleSystem, gotBody.Messages[0].Role)
	assert.Equal(t, "Hi", gotBody.Messages[1].Content)
}

func TestOpenAIRequestOmitsUnsetParams(t *testing.T) {
	p := openAIProviderFor(t, "http://unused", ModelConfig{})

	raw, err := json.Marshal(p.buildRequest([]Message{NewUserMessage("x")}, false))
	require.NoError(t, err)

	body := string(raw)
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "top_p")
	assert.NotContains(t, body, "frequency_penalty")
	assert.NotContains(t, body, "presence_penalty")
}

func TestOpenAIRequestCarriesConfiguredParams(t *testing.T) {
	temp := 0.2
	maxTokens := 512
	topP := 0.9

	p := openAIProviderFor(t, "http://unused", ModelConfig{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		TopP:        &topP,
	})

	req := p.buildRequest(nil, true)
	assert.Equal(t, 0.2, req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 512, *req.MaxTokens)
	require.NotNil(t, req.TopP)
	assert.Equal(t, 0.9, *req.TopP)
	assert.True(t, req.Stream)
}

func TestOpenAIStreamChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrames(
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":""}}]}`,
			`{"choices":[{"delta":{"content":" world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			"[DONE]",
		))
	}))
	defer server.Close()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	ch, err := p.StreamChat(context.Background(), []Message{NewUserMessage("Hi")})
	require.NoError(t, err)

	content, chunks := collectStream(t, ch)
	assert.Equal(t, "Hello world", content)

	last := requireTerminal(t, chunks)
	assert.NoError(t, last.Err)

	// Empty deltas and role-only frames produce no chunks.
	assert.Len(t, chunks, 3)
}

func TestOpenAIStreamChatUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer server.Close()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	ch, err := p.StreamChat(context.Background(), []Message{NewUserMessage("Hi")})
	require.Error(t, err)
	assert.Nil(t, ch)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.Equal(t, ProviderOpenAI, upErr.Provider)
	assert.Contains(t, upErr.Body, "invalid api key")
}

func TestOpenAIStreamChatMalformedFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseFrames(
			`{"choices":[{"delta":{"content":"ok"}}]}`,
			`{not json`,
			`{"choices":[{"delta":{"content":"!"}}]}`,
			"[DONE]",
		))
	}))
	defer server.Close()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	ch, err := p.StreamChat(context.Background(), []Message{NewUserMessage("Hi")})
	require.NoError(t, err)

	content, chunks := collectStream(t, ch)
	assert.Equal(t, "ok!", content)
	requireTerminal(t, chunks)
}

func TestOpenAIStreamChatEOFWithoutDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Connection ends without a [DONE] sentinel.
		fmt.Fprint(w, sseFrames(`{"choices":[{"delta":{"content":"partial"}}]}`))
	}))
	defer server.Close()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	ch, err := p.StreamChat(context.Background(), []Message{NewUserMessage("Hi")})
	require.NoError(t, err)

	content, chunks := collectStream(t, ch)
	assert.Equal(t, "partial", content)
	requireTerminal(t, chunks)
}

func TestOpenAIStreamChatContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrames(`{"choices":[{"delta":{"content":"first"}}]}`))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := openAIProviderFor(t, server.URL, ModelConfig{})

	ch, err := p.StreamChat(ctx, []Message{NewUserMessage("Hi")})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Content)

	cancel()

	// The producer stops and closes the channel.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel not closed after cancellation")
		}
	}
}
