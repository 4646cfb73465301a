// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "context"

// =============================================================================
// PROVIDER NAMES
// =============================================================================

// Name identifies an upstream chat-completion API.
type Name string

// Known provider tags. The factory rejects anything outside this set.
const (
	ProviderOpenAI    Name = "openai"
	ProviderAnthropic Name = "anthropic"
	ProviderLocal     Name = "local"
)

// RequiresAPIKey reports whether the provider needs a credential.
// The local provider talks to a loopback server and needs none.
func (n Name) RequiresAPIKey() bool {
	return n == ProviderOpenAI || n == ProviderAnthropic
}

// =============================================================================
// MODEL CONFIGURATION
// =============================================================================

// Default sampling parameters applied when the config leaves them unset.
const (
	// DefaultTemperature is used when ModelConfig.Temperature is nil.
	DefaultTemperature = 0.7

	// DefaultAnthropicMaxTokens is the max_tokens value sent to the
	// Anthropic API when none is configured; the field is mandatory there.
	DefaultAnthropicMaxTokens = 4096
)

// ModelConfig selects a provider, model, and sampling parameters for one
// chat turn. It is immutable once handed to an adapter.
//
// Optional fields are pointers so that "unset" is distinguishable from an
// explicit zero; unset fields are omitted from the upstream request body
// (except where a provider requires them, in which case the documented
// default is merged in).
type ModelConfig struct {
	Provider         Name
	Model            string
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// EffectiveTemperature returns the configured temperature or the default.
func (c ModelConfig) EffectiveTemperature() float64 {
	if c.Temperature != nil {
		return *c.Temperature
	}
	return DefaultTemperature
}

// =============================================================================
// MESSAGES
// =============================================================================

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// =============================================================================
// RESPONSES
// =============================================================================

// Usage reports token accounting for a completed response, when the
// upstream provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a non-streaming chat call.
type Response struct {
	Content string
	Usage   *Usage
}

// StreamChunk is one element of a normalized delta stream.
//
// Invariant: once Done is true or Err is non-nil the chunk is terminal; the
// producing adapter closes the channel and yields nothing further.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Provider is the capability set shared by all adapters.
type Provider interface {
	// Chat issues a single non-streaming request and returns the complete
	// response. A non-2xx upstream response yields an *UpstreamError.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// StreamChat issues a streaming request and returns a lazy sequence of
	// content deltas. The HTTP call happens before StreamChat returns: a
	// non-2xx response fails here, with no channel and no chunks. Empty
	// deltas are suppressed. The sequence ends with exactly one terminal
	// chunk, after which the channel is closed.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}
