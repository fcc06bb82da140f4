// Package api exposes the orchestrator over HTTP: task submission with SSE
// progress streaming, session control, approvals, and conversation history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voxagent/voxagent/internal/config"
	"github.com/voxagent/voxagent/internal/domain"
	"github.com/voxagent/voxagent/internal/orchestrator"
	"github.com/voxagent/voxagent/internal/session"
	"github.com/voxagent/voxagent/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler handles orchestrator HTTP requests.
type Handler struct {
	orch        *orchestrator.Orchestrator
	sessions    *session.Store
	repo        store.Repository
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates an API handler.
func NewHandler(orch *orchestrator.Orchestrator, sessions *session.Store, repo store.Repository, cfg *config.Config) *Handler {
	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		orch:        orch,
		sessions:    sessions,
		repo:        repo,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		cfg:         cfg,
	}
}

// ChatRequest is the task submission body.
type ChatRequest struct {
	Input          string            `json:"input"`
	ConversationID string            `json:"conversationId,omitempty"`
	ProfileID      string            `json:"profileId,omitempty"`
	Tools          []domain.ToolSpec `json:"tools,omitempty"`
	MaxIterations  int               `json:"maxIterations,omitempty"`
	Parallel       bool              `json:"parallel,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming completion result.
type ChatResponse struct {
	SessionID      string        `json:"sessionId"`
	ConversationID string        `json:"conversationId,omitempty"`
	Status         domain.Status `json:"status"`
	Content        string        `json:"content"`
	Iterations     int           `json:"iterations"`
	Truncated      bool          `json:"truncated,omitempty"`
}

// ApprovalRequest resolves a pending tool-call approval.
type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

// RegisterRoutes registers orchestrator routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.HandleChat)
		r.Post("/emergency-stop", h.HandleEmergencyStop)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.HandleListSessions)
			r.Post("/cleanup", h.HandleCleanup)
			r.Get("/{sessionID}", h.HandleGetSession)
			r.Post("/{sessionID}/stop", h.HandleStopSession)
			r.Post("/{sessionID}/approval", h.HandleApproval)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.HandleListConversations)
			r.Get("/{conversationID}", h.HandleGetConversation)
			r.Delete("/{conversationID}", h.HandleDeleteConversation)
		})
	})
}

// HandleChat handles POST /v1/chat/completions. The response streams progress
// events over SSE when the client asks for it and otherwise blocks until the
// session terminates.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Input == "" {
		http.Error(w, `{"error": "input is required"}`, http.StatusBadRequest)
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat request",
		"request_id", reqID,
		"conversation_id", req.ConversationID,
		"input_length", len(req.Input),
		"tools", len(req.Tools),
		"stream", req.Stream,
	)

	sess, events := h.orch.Start(orchestrator.StartRequest{
		Input:          req.Input,
		Tools:          req.Tools,
		MaxIterations:  req.MaxIterations,
		ProfileID:      req.ProfileID,
		ConversationID: req.ConversationID,
		Parallel:       req.Parallel,
	})

	if req.Stream || wantsSSE(r) {
		h.streamEvents(w, r, sess.ID, events)
		return
	}

	// Blocking mode: drain events until the loop closes the channel, then
	// report the session's terminal snapshot.
	for range events {
	}
	final, ok := h.orch.Session(sess.ID)
	if !ok {
		http.Error(w, `{"error": "session vanished"}`, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, ChatResponse{
		SessionID:      final.ID,
		ConversationID: final.ConversationID,
		Status:         final.Status,
		Content:        final.FinalContent(),
		Iterations:     final.IterationCount,
		Truncated:      final.Truncated,
	})
}

// streamEvents relays a session's progress events as SSE. A client disconnect
// ends the stream only; the session keeps running and remains reachable
// through the session endpoints and the WebSocket feed.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, sessionID string, events <-chan domain.ProgressEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	retryDelayMs := int64(5000)
	keepaliveInterval := 10 * time.Second
	if h.cfg != nil {
		retryDelayMs = h.cfg.SSE.RetryDelay.Milliseconds()
		keepaliveInterval = h.cfg.SSE.KeepaliveInterval
	}
	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", retryDelayMs)); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("Chat stream disconnected", "session_id", sessionID)
			return
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				slog.Info("Chat stream finished", "session_id", sessionID)
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				slog.Warn("failed to marshal progress event", "error", err)
				continue
			}
			if err := writeSSEWithID(w, evt.ID, string(evt.Type), string(data)); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

// HandleEmergencyStop handles POST /v1/emergency-stop: cancel everything.
func (h *Handler) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	n := h.orch.StopAll()
	respondJSON(w, http.StatusOK, map[string]any{"stopped": n})
}

// HandleListSessions handles GET /v1/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	sessions := h.orch.Sessions(activeOnly)
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleGetSession handles GET /v1/sessions/{sessionID}.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := h.orch.Session(id)
	if !ok {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// HandleStopSession handles POST /v1/sessions/{sessionID}/stop.
func (h *Handler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !h.orch.Stop(id) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleApproval handles POST /v1/sessions/{sessionID}/approval.
func (h *Handler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	err := h.orch.Approve(id, req.Approved)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
	case errors.Is(err, session.ErrNoPendingApproval), errors.Is(err, orchestrator.ErrNoWait):
		http.Error(w, `{"error": "no pending approval"}`, http.StatusConflict)
	case err != nil:
		slog.Error("Approval failed", "session_id", id, "error", err)
		http.Error(w, `{"error": "approval failed"}`, http.StatusInternalServerError)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"approved": req.Approved})
	}
}

// HandleCleanup handles POST /v1/sessions/cleanup: an immediate sweep pass.
// An optional body overrides the configured retention.
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := time.Hour
	if h.cfg != nil {
		retention = h.cfg.Sweep.Retention
	}
	var req struct {
		OlderThanSeconds int `json:"olderThanSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.OlderThanSeconds > 0 {
		retention = time.Duration(req.OlderThanSeconds) * time.Second
	}
	n := session.SweepOnce(h.sessions, retention, nil)
	respondJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// HandleListConversations handles GET /v1/conversations.
func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := h.repo.ListConversations(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		http.Error(w, `{"error": "failed to list conversations"}`, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	})
}

// HandleGetConversation handles GET /v1/conversations/{conversationID}.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load conversation", "conversation_id", id, "error", err)
		http.Error(w, `{"error": "failed to load conversation"}`, http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// HandleDeleteConversation handles DELETE /v1/conversations/{conversationID}.
func (h *Handler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "conversationID")
	if err := h.repo.DeleteConversation(r.Context(), id); err != nil {
		slog.Error("Failed to delete conversation", "conversation_id", id, "error", err)
		http.Error(w, `{"error": "failed to delete conversation"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			http.Error(w, `{"status": "unhealthy"}`, http.StatusServiceUnavailable)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func wantsSSE(r *http.Request) bool {
	return r.Header.Get("Accept") == "text/event-stream"
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
