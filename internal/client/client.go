// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the consumer side of the gateway's chat stream: it
// posts a turn and decodes the SSE reply back into a growing response.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeloom/codeloom/internal/chat"
	"github.com/codeloom/codeloom/internal/transport"
)

// Client talks to a codeloom gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: stream lifetime is governed by ctx.
		httpClient: &http.Client{},
	}
}

// wire form of one outbound frame from the gateway.
type streamFrame struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errResp errorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("gateway error (HTTP %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("gateway error (HTTP %d)", resp.StatusCode)
	}

	return resp, nil
}

// StreamTurn runs one streaming chat turn. onDelta, when non-nil, is
// invoked with each content delta as it arrives. The accumulated response
// is returned even when the stream fails partway: a non-nil error with
// non-empty content means a truncated but usable answer.
func (c *Client) StreamTurn(ctx context.Context, req chat.Request, onDelta func(string)) (string, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var content strings.Builder
	reader := transport.NewSSEReader(resp.Body)
	for {
		payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				// Stream ended without [DONE]: connection aborted.
				return content.String(), fmt.Errorf("stream aborted")
			}
			return content.String(), fmt.Errorf("stream read failed: %w", err)
		}

		if transport.IsDone(payload) {
			return content.String(), nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		if frame.Content == "" {
			continue
		}

		content.WriteString(frame.Content)
		if onDelta != nil {
			onDelta(frame.Content)
		}
	}
}

// completionResponse mirrors the gateway's non-streaming reply.
type completionResponse struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// nonStreamingRequest wraps a turn with stream disabled.
type nonStreamingRequest struct {
	chat.Request
	Stream bool `json:"stream"`
}

// CompleteTurn runs one non-streaming chat turn.
func (c *Client) CompleteTurn(ctx context.Context, req chat.Request) (string, error) {
	resp, err := c.post(ctx, nonStreamingRequest{Request: req, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return body.Content, nil
}

// Health reports whether the gateway is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	healthClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := healthClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
