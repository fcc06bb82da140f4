package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxagent/voxagent/internal/broadcast"
	"github.com/voxagent/voxagent/internal/config"
	"github.com/voxagent/voxagent/internal/domain"
	"github.com/voxagent/voxagent/internal/gateway"
	"github.com/voxagent/voxagent/internal/orchestrator"
	"github.com/voxagent/voxagent/internal/session"
	"github.com/voxagent/voxagent/internal/store"
)

type scriptedGateway struct{}

func (scriptedGateway) Call(ctx context.Context, history []domain.Turn, _ []domain.ToolSpec) (*gateway.ModelResponse, error) {
	return &gateway.ModelResponse{Content: "The answer is 42."}, nil
}

func (g scriptedGateway) CallStreaming(ctx context.Context, history []domain.Turn, specs []domain.ToolSpec, _ func(string)) (*gateway.ModelResponse, error) {
	return g.Call(ctx, history, specs)
}

type nullExecutor struct{}

func (nullExecutor) Invoke(context.Context, string, json.RawMessage) (domain.ToolResult, error) {
	return domain.ToolResult{Success: true, Content: "ok"}, nil
}

type memRepo struct {
	convs map[string]domain.Conversation
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]domain.Conversation)}
}

func (m *memRepo) SaveTranscript(_ context.Context, conv domain.Conversation) error {
	m.convs[conv.ID] = conv
	return nil
}

func (m *memRepo) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	conv, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (m *memRepo) ListConversations(context.Context, int) ([]*domain.Conversation, error) {
	out := make([]*domain.Conversation, 0, len(m.convs))
	for id := range m.convs {
		conv := m.convs[id]
		out = append(out, &conv)
	}
	return out, nil
}

func (m *memRepo) DeleteConversation(_ context.Context, id string) error {
	delete(m.convs, id)
	return nil
}

func (m *memRepo) CleanupOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memRepo) Ping(context.Context) error                                { return nil }
func (m *memRepo) Close() error                                              { return nil }

var _ store.Repository = (*memRepo)(nil)

func testServer(t *testing.T) (*chi.Mux, *memRepo) {
	t.Helper()
	cfg := &config.Config{
		Port: "0",
		Orchestrator: config.OrchestratorConfig{
			MaxIterations:   5,
			ApprovalTimeout: time.Second,
			EventBuffer:     64,
		},
		Sweep:     config.SweepConfig{Interval: time.Minute, Retention: time.Hour},
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute},
		SSE: config.SSEConfig{
			KeepaliveInterval:  10 * time.Second,
			RetryDelay:         time.Second,
			MaxRequestBodySize: 1 << 20,
		},
	}

	repo := newMemRepo()
	sessions := session.NewStore()
	orch := orchestrator.New(sessions, scriptedGateway{}, nullExecutor{},
		orchestrator.NewClassifier(), orchestrator.NewGate(time.Second),
		broadcast.NewBroadcaster(64), cfg.Orchestrator,
		orchestrator.WithTranscriptSink(repo))

	h := NewHandler(orch, sessions, repo, cfg)
	r := chi.NewRouter()
	r.Get("/health", h.HandleHealth)
	h.RegisterRoutes(r)
	return r, repo
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatBlockingMode(t *testing.T) {
	r, repo := testServer(t)

	w := postJSON(t, r, "/v1/chat/completions", ChatRequest{
		Input:          "what is the answer?",
		ConversationID: "conv-1",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "The answer is 42.", resp.Content)
	assert.NotEmpty(t, resp.SessionID)

	// Transcript persisted under the requested conversation.
	require.Eventually(t, func() bool {
		return len(repo.convs) == 1
	}, time.Second, 5*time.Millisecond)
	conv, ok := repo.convs["conv-1"]
	require.True(t, ok)
	assert.Equal(t, resp.SessionID, conv.SessionID)
}

func TestChatRejectsEmptyInput(t *testing.T) {
	r, _ := testServer(t)
	w := postJSON(t, r, "/v1/chat/completions", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRejectsMalformedBody(t *testing.T) {
	r, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStreamingMode(t *testing.T) {
	r, _ := testServer(t)

	w := postJSON(t, r, "/v1/chat/completions", ChatRequest{Input: "task", Stream: true})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "retry:")
	assert.Contains(t, body, "event: started")
	assert.Contains(t, body, "event: response")
	assert.Contains(t, body, "event: done")
}

func TestSessionEndpoints(t *testing.T) {
	r, _ := testServer(t)

	w := postJSON(t, r, "/v1/chat/completions", ChatRequest{Input: "task"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	// Get the session.
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+resp.SessionID, nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var sess domain.AgentSession
	require.NoError(t, json.NewDecoder(w2.Body).Decode(&sess))
	assert.Equal(t, domain.StatusCompleted, sess.Status)

	// List excludes terminal sessions under active=true.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/?active=true", nil)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req)
	require.Equal(t, http.StatusOK, w3.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w3.Body).Decode(&list))
	assert.Equal(t, 0, list.Count)
}

func TestSessionNotFound(t *testing.T) {
	r, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(t, r, "/v1/sessions/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(t, r, "/v1/sessions/missing/approval", ApprovalRequest{Approved: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprovalWithoutPending(t *testing.T) {
	r, _ := testServer(t)

	w := postJSON(t, r, "/v1/chat/completions", ChatRequest{Input: "task"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	w2 := postJSON(t, r, "/v1/sessions/"+resp.SessionID+"/approval", ApprovalRequest{Approved: true})
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestEmergencyStop(t *testing.T) {
	r, _ := testServer(t)

	w := postJSON(t, r, "/v1/emergency-stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Stopped int `json:"stopped"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Stopped)
}

func TestConversationEndpoints(t *testing.T) {
	r, repo := testServer(t)
	repo.convs["c1"] = domain.Conversation{ID: "c1", Title: "earlier chat"}

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var conv domain.Conversation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&conv))
	assert.Equal(t, "earlier chat", conv.Title)

	req = httptest.NewRequest(http.MethodDelete, "/v1/conversations/c1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, repo.convs)

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/c1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupEndpoint(t *testing.T) {
	r, _ := testServer(t)

	w := postJSON(t, r, "/v1/sessions/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Removed)
}

func TestHealth(t *testing.T) {
	r, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	// Other clients are unaffected.
	assert.True(t, rl.Allow("5.6.7.8"))
}
