// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom/codeloom/internal/config"
	"github.com/codeloom/codeloom/internal/provider"
	"github.com/codeloom/codeloom/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildMessagesOrder(t *testing.T) {
	history := []provider.Message{
		provider.NewUserMessage("earlier question"),
		provider.NewAssistantMessage("earlier answer"),
	}

	messages := BuildMessages("You are terse.", nil, history, "new question")

	require.Len(t, messages, 4)
	assert.Equal(t, provider.RoleSystem, messages[0].Role)
	assert.Equal(t, "You are terse.", messages[0].Content)
	assert.Equal(t, "earlier question", messages[1].Content)
	assert.Equal(t, "earlier answer", messages[2].Content)
	assert.Equal(t, provider.RoleUser, messages[3].Role)
	assert.Equal(t, "new question", messages[3].Content)
}

func TestBuildMessagesEmptyHistory(t *testing.T) {
	messages := BuildMessages("prompt", nil, nil, "hi")

	require.Len(t, messages, 2)
	assert.Equal(t, provider.RoleSystem, messages[0].Role)
	assert.Equal(t, provider.RoleUser, messages[1].Role)
}

func TestBuildMessagesMemoryBlock(t *testing.T) {
	memory := []store.MemoryEntry{
		{Key: "language", Value: "Go"},
		{Key: "style", Value: "terse"},
	}

	messages := BuildMessages("You are terse.", memory, nil, "hi")

	system := messages[0].Content
	assert.Equal(t, "You are terse.\n\nProject Context:\nlanguage: Go\nstyle: terse", system)
}

func TestBuildMessagesNoMemoryNoBlock(t *testing.T) {
	messages := BuildMessages("prompt", nil, nil, "hi")
	assert.NotContains(t, messages[0].Content, "Project Context:")
}

// fakeLocalUpstream runs an OpenAI-compatible local server and captures the
// last request body.
func fakeLocalUpstream(t *testing.T) (*httptest.Server, *struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
}) {
	t.Helper()
	var captured struct {
		Model    string             `json:"model"`
		Messages []provider.Message `json:"messages"`
		Stream   bool               `json:"stream"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		if captured.Stream {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"streamed\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "done"}}]}`)
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func serviceWithLocalUpstream(t *testing.T, st *store.Store, upstreamURL string) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Chat.Provider = "local"
	cfg.Chat.Model = "llama3.2"
	cfg.Local.BaseURL = upstreamURL
	return NewService(cfg, st)
}

func TestStreamWithStoredAgentAndMemory(t *testing.T) {
	upstream, captured := fakeLocalUpstream(t)
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveAgent(ctx, &store.Agent{
		WorkspaceID:  "ws1",
		Name:         "default",
		SystemPrompt: "You write Go.",
		Provider:     "local",
		Model:        "qwen2.5-coder",
		IsDefault:    true,
	}))
	require.NoError(t, st.UpsertMemory(ctx, "ws1", nil, "project", "codeloom"))

	svc := serviceWithLocalUpstream(t, st, upstream.URL)

	ch, err := svc.Stream(ctx, Request{
		WorkspaceID: "ws1",
		Message:     "write a test",
	})
	require.NoError(t, err)

	var content strings.Builder
	for chunk := range ch {
		content.WriteString(chunk.Content)
	}
	assert.Equal(t, "streamed", content.String())

	// The stored agent's model and prompt were used.
	assert.Equal(t, "qwen2.5-coder", captured.Model)
	require.NotEmpty(t, captured.Messages)
	assert.Equal(t, provider.RoleSystem, captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "You write Go.")
	assert.Contains(t, captured.Messages[0].Content, "Project Context:\nproject: codeloom")
	assert.Equal(t, "write a test", captured.Messages[len(captured.Messages)-1].Content)
}

func TestCompleteFallsBackToConfigDefaults(t *testing.T) {
	upstream, captured := fakeLocalUpstream(t)
	svc := serviceWithLocalUpstream(t, testStore(t), upstream.URL)

	resp, err := svc.Complete(context.Background(), Request{
		WorkspaceID: "ws-without-agent",
		Message:     "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "llama3.2", captured.Model)
	assert.Equal(t, "You are a helpful AI coding assistant.", captured.Messages[0].Content)
}

func TestStreamMissingCredential(t *testing.T) {
	cfg := config.Default()
	cfg.Chat.Provider = "openai"
	cfg.Chat.Model = "gpt-4o"
	cfg.Providers.OpenAIKeyEnv = "CODELOOM_TEST_ABSENT_KEY"

	svc := NewService(cfg, testStore(t))

	ch, err := svc.Stream(context.Background(), Request{
		WorkspaceID: "ws1",
		Message:     "hi",
	})
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.True(t, provider.IsConfigError(err))
	assert.ErrorIs(t, err, provider.ErrMissingAPIKey)
}

func TestResolveCredentialPrefersStoredKey(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.SaveAPIKey(ctx, "ws1", "openai", "sk-stored")
	require.NoError(t, err)

	t.Setenv("CODELOOM_TEST_ENV_KEY", "sk-env")
	cfg := config.Default()
	cfg.Providers.OpenAIKeyEnv = "CODELOOM_TEST_ENV_KEY"

	svc := NewService(cfg, st)

	key, err := svc.resolveCredential(ctx, cfg, "ws1", provider.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", key)

	// Without a stored key the environment supplies it.
	key, err = svc.resolveCredential(ctx, cfg, "other-ws", provider.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
}

func TestUpdateConfigTakesEffect(t *testing.T) {
	upstream, captured := fakeLocalUpstream(t)
	svc := serviceWithLocalUpstream(t, testStore(t), upstream.URL)

	next := config.Default()
	next.Chat.Provider = "local"
	next.Chat.Model = "updated-model"
	next.Local.BaseURL = upstream.URL
	svc.UpdateConfig(next)

	_, err := svc.Complete(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "updated-model", captured.Model)
}
