// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider exposes heterogeneous chat-completion APIs behind one
// normalized interface.
//
// Three adapters are provided, one per upstream wire protocol:
//
//   - OpenAI: flat messages array, bearer auth, SSE streaming
//   - Anthropic: top-level system field, typed SSE events
//   - Local: Ollama newline-delimited JSON, or an OpenAI-compatible
//     local server, selected by inspecting the base URL
//
// All adapters satisfy the Provider interface: Chat for a single complete
// response, StreamChat for a lazy sequence of content deltas. An adapter
// holds only its immutable ModelConfig and credential; it is constructed by
// New for a single chat turn and discarded afterwards.
//
// Streaming contract: StreamChat issues the HTTP request synchronously, so
// a non-2xx upstream response fails before any chunk is produced. The
// returned channel is unbuffered; the producer reads no further upstream
// bytes until the consumer drains the previous chunk. Once a chunk with
// Done or Err set is delivered, the channel is closed and no further chunks
// follow.
//
// Example:
//
//	p, err := provider.New(provider.ModelConfig{
//	    Provider: provider.ProviderOpenAI,
//	    Model:    "gpt-4",
//	}, apiKey, "")
//	if err != nil {
//	    return err
//	}
//	chunks, err := p.StreamChat(ctx, messages)
//	if err != nil {
//	    return err
//	}
//	for chunk := range chunks {
//	    fmt.Print(chunk.Content)
//	}
package provider
