// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// defaultTimeout bounds non-streaming requests end to end.
	defaultTimeout = 60 * time.Second

	// maxErrorBodySize caps how much of an upstream error body is retained
	// as diagnostic text.
	maxErrorBodySize = 64 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all non-streaming provider requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: defaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests. It has no
	// client timeout: stream lifetime is governed by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// postJSON sends a JSON POST and returns the response, using the pooled
// non-streaming client. A non-2xx status is converted to *UpstreamError
// with the response body as diagnostic text.
func postJSON(ctx context.Context, name Name, url string, body any, headers map[string]string) (*http.Response, error) {
	return doJSON(ctx, sharedHTTPClient, name, url, body, headers)
}

// postJSONStream is postJSON on the streaming client: no client timeout,
// cancellation via ctx only. The caller owns resp.Body on success.
func postJSONStream(ctx context.Context, name Name, url string, body any, headers map[string]string) (*http.Response, error) {
	return doJSON(ctx, sharedStreamingClient, name, url, body, headers)
}

func doJSON(ctx context.Context, client *http.Client, name Name, url string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		diagnostic, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, &UpstreamError{
			Provider: name,
			Status:   resp.StatusCode,
			Body:     string(diagnostic),
		}
	}

	return resp, nil
}

// streamHeaders are the extra headers set on SSE requests.
func streamHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

// emit delivers one chunk, honoring cancellation. Returns false when the
// context was cancelled before the consumer accepted the chunk.
func emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
