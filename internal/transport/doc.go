// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport decodes the incremental wire formats used by upstream
// chat-completion APIs into discrete frames.
//
// Two framings are supported:
//
//   - Server-Sent Events (SSE): "data: <payload>" lines separated by blank
//     lines, with the literal payload "[DONE]" as an end-of-stream sentinel.
//     Used by OpenAI-style and Anthropic-style APIs.
//   - Newline-delimited JSON: one JSON object per line. Used by Ollama.
//
// Both readers buffer partial lines across network reads: a frame split
// across two reads is reassembled, and an incomplete trailing line is never
// emitted as a frame. Lines that fail to parse are skipped, never fatal,
// to tolerate keep-alives, comments, and other protocol noise.
package transport
