// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP gateway in front of the chat pipeline.
//
// Endpoints:
//   - POST /v1/chat   - run a chat turn (SSE stream by default)
//   - GET  /v1/models - list known models per provider
//   - GET  /health    - health check
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeloom/codeloom/internal/chat"
	"github.com/codeloom/codeloom/internal/provider"
	"github.com/codeloom/codeloom/internal/util"
)

// Version is the gateway version reported by /health.
const Version = "1.0.0"

// doneSentinel terminates the outbound SSE stream.
const doneSentinel = "[DONE]"

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP gateway.
type Server struct {
	addr    string
	router  *http.ServeMux
	server  *http.Server
	svc     *chat.Service
	logger  *slog.Logger
	limiter *RateLimiter
	started time.Time
}

// NewServer creates a gateway listening on addr. rateLimitPerMinute of 0
// disables rate limiting.
func NewServer(addr string, svc *chat.Service, logger *slog.Logger, rateLimitPerMinute int) *Server {
	s := &Server{
		addr:    addr,
		router:  http.NewServeMux(),
		svc:     svc,
		logger:  logger,
		started: time.Now(),
	}
	if rateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(rateLimitPerMinute)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/chat", s.handleChat)
	s.router.HandleFunc("GET /v1/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter, s.logger),
	)(s.router)
}

// =============================================================================
// CHAT ENDPOINT
// =============================================================================

// chatRequest is the wire form of a chat turn. Stream defaults to true.
type chatRequest struct {
	chat.Request
	Stream *bool `json:"stream"`
}

// outboundChunk is one SSE data payload sent to the client.
type outboundChunk struct {
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	s.logger.Info("CHAT_REQUEST",
		"conversation", req.ConversationID,
		"workspace", req.WorkspaceID,
		"project", req.ProjectID,
		"history", len(req.History),
		"message", util.TruncateRunes(req.Message, 80),
	)

	if req.Stream != nil && !*req.Stream {
		s.handleChatComplete(w, r, req.Request)
		return
	}
	s.handleChatStream(w, r, req.Request)
}

// handleChatStream runs a streaming turn. Failures before the first chunk
// produce a JSON error with a non-2xx status; once streaming has begun an
// adapter error aborts the connection and the partial output stands.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, req chat.Request) {
	ctx := r.Context()

	ch, err := s.svc.Stream(ctx, req)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range ch {
		if chunk.Err != nil {
			s.logger.Error("CHAT_STREAM_ABORT",
				"conversation", req.ConversationID,
				"error", chunk.Err,
			)
			return
		}

		if chunk.Content != "" {
			payload, err := json.Marshal(outboundChunk{Content: chunk.Content})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}

		if chunk.Done {
			fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
			flusher.Flush()
			return
		}
	}
}

// chatCompletionResponse is the non-streaming reply.
type chatCompletionResponse struct {
	ConversationID string          `json:"conversation_id"`
	Content        string          `json:"content"`
	Usage          *provider.Usage `json:"usage,omitempty"`
}

func (s *Server) handleChatComplete(w http.ResponseWriter, r *http.Request, req chat.Request) {
	resp, err := s.svc.Complete(r.Context(), req)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatCompletionResponse{
		ConversationID: req.ConversationID,
		Content:        resp.Content,
		Usage:          resp.Usage,
	})
}

// writeChatError maps pipeline failures onto HTTP statuses.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var upErr *provider.UpstreamError
	switch {
	case provider.IsConfigError(err):
		status = http.StatusBadRequest
	case errors.As(err, &upErr):
		status = http.StatusBadGateway
	}

	s.logger.Error("CHAT_ERROR", "status", status, "error", err)
	s.writeError(w, status, err.Error())
}

// =============================================================================
// MODELS ENDPOINT
// =============================================================================

// ModelInfo describes one chat model the gateway can route to.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// ModelsResponse is the reply for GET /v1/models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// knownModels lists the models offered per provider. Local entries depend
// on what the local server has pulled, so the list names common defaults.
var knownModels = []ModelInfo{
	{ID: "gpt-4o", Provider: "openai"},
	{ID: "gpt-4o-mini", Provider: "openai"},
	{ID: "gpt-4-turbo", Provider: "openai"},
	{ID: "claude-sonnet-4", Provider: "anthropic"},
	{ID: "claude-3-5-sonnet-latest", Provider: "anthropic"},
	{ID: "claude-3-5-haiku-latest", Provider: "anthropic"},
	{ID: "llama3.2", Provider: "local"},
	{ID: "qwen2.5-coder:14b", Provider: "local"},
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: knownModels})
}

// =============================================================================
// HEALTH ENDPOINT
// =============================================================================

// HealthResponse is the reply for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeSecs int64  `json:"uptime_secs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    Version,
		UptimeSecs: int64(time.Since(s.started).Seconds()),
	})
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat streams are long-lived and governed by
		// the request context.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("SERVER_START", "addr", s.addr, "version", Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("SERVER_SHUTDOWN")
	return s.server.Shutdown(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response of the form {"error": msg}.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
