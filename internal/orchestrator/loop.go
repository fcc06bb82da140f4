package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxagent/voxagent/internal/broadcast"
	"github.com/voxagent/voxagent/internal/config"
	"github.com/voxagent/voxagent/internal/domain"
	"github.com/voxagent/voxagent/internal/gateway"
	"github.com/voxagent/voxagent/internal/session"
	"github.com/voxagent/voxagent/internal/tools"
)

const retryBaseDelay = 500 * time.Millisecond

// TranscriptSink persists a finished session's transcript. Persistence is
// best-effort; a failing sink never changes the session's outcome.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, conv domain.Conversation) error
}

// StartRequest describes one task submission.
type StartRequest struct {
	// Input is the user's task text.
	Input string
	// Tools are the tool schemas offered to the model for this session.
	Tools []domain.ToolSpec
	// MaxIterations overrides the configured iteration ceiling when > 0.
	MaxIterations int
	// ProfileID tags the session with the caller's tool profile.
	ProfileID string
	// ConversationID groups the session under an existing conversation.
	ConversationID string
	// Parallel allows concurrent execution of a multi-call batch. Batches
	// containing a gated call always run sequentially regardless.
	Parallel bool
}

// Orchestrator runs agent sessions. Each Start spawns an independent
// goroutine driving the model-call/tool-execution loop for one session;
// sessions never serialize behind each other.
type Orchestrator struct {
	store       *session.Store
	gw          gateway.Gateway
	executor    tools.Executor
	classifier  *Classifier
	gate        *Gate
	broadcaster *broadcast.Broadcaster
	transcripts TranscriptSink
	cfg         config.OrchestratorConfig
	maxRetries  int

	eventSeq atomic.Int64
	wg       sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTranscriptSink enables transcript persistence at session termination.
func WithTranscriptSink(sink TranscriptSink) Option {
	return func(o *Orchestrator) { o.transcripts = sink }
}

// WithGatewayRetries bounds retry attempts for retryable model-call failures.
func WithGatewayRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// New creates an orchestrator.
func New(store *session.Store, gw gateway.Gateway, executor tools.Executor,
	classifier *Classifier, gate *Gate, broadcaster *broadcast.Broadcaster,
	cfg config.OrchestratorConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		gw:          gw,
		executor:    executor,
		classifier:  classifier,
		gate:        gate,
		broadcaster: broadcaster,
		cfg:         cfg,
		maxRetries:  2,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers a new session and launches its loop. The returned channel
// carries the session's progress events and is closed when the loop exits.
// The caller owns draining it; an undrained channel only loses events past
// its buffer, never blocks the loop.
func (o *Orchestrator) Start(req StartRequest) (domain.AgentSession, <-chan domain.ProgressEvent) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = o.cfg.MaxIterations
	}
	sess := o.store.Create(req.ConversationID, req.ProfileID, maxIter)
	ch := make(chan domain.ProgressEvent, o.cfg.EventBuffer)

	o.wg.Add(1)
	go o.run(sess.ID, req, ch)

	return sess, ch
}

// Stop cancels a session. The signal is idempotent; Stop reports whether the
// session exists.
func (o *Orchestrator) Stop(id string) bool {
	return o.store.Cancel(id)
}

// StopAll cancels every active session and returns the count.
func (o *Orchestrator) StopAll() int {
	n := o.store.CancelAll()
	slog.Info("Emergency stop issued", "cancelled", n)
	return n
}

// Approve resolves a session's pending approval.
func (o *Orchestrator) Approve(id string, approved bool) error {
	sess, ok := o.store.Get(id)
	if !ok {
		return session.ErrNotFound
	}
	if sess.Status != domain.StatusAwaitingApproval {
		return session.ErrNoPendingApproval
	}
	return o.gate.Resolve(id, approved)
}

// Session returns a snapshot of one session.
func (o *Orchestrator) Session(id string) (domain.AgentSession, bool) {
	return o.store.Get(id)
}

// Sessions returns snapshots of stored sessions, optionally restricted to
// active ones.
func (o *Orchestrator) Sessions(activeOnly bool) []domain.AgentSession {
	return o.store.List(session.Filter{ActiveOnly: activeOnly})
}

// Wait blocks until every session loop has exited. Call after cancelling
// sessions during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) emit(ch chan<- domain.ProgressEvent, evt domain.ProgressEvent) {
	evt.ID = o.eventSeq.Add(1)
	evt.Timestamp = time.Now()
	select {
	case ch <- evt.ClonePayload():
	default:
	}
	if o.broadcaster != nil {
		o.broadcaster.Publish(evt)
	}
}

func (o *Orchestrator) event(id string, req StartRequest, typ domain.EventType, iter int, payload map[string]any) domain.ProgressEvent {
	return domain.ProgressEvent{
		Type:           typ,
		SessionID:      id,
		ConversationID: req.ConversationID,
		Iteration:      iter,
		Payload:        payload,
	}
}

// run is the per-session orchestration loop.
func (o *Orchestrator) run(id string, req StartRequest, ch chan domain.ProgressEvent) {
	defer o.wg.Done()
	defer close(ch)

	ctx := o.store.Context(id)
	log := slog.With("session_id", id)

	o.emit(ch, o.event(id, req, domain.EventStarted, 0, map[string]any{
		"input": req.Input,
	}))

	if err := o.store.AppendTurn(id, domain.Turn{Role: domain.RoleUser, Content: req.Input}); err != nil {
		log.Error("Failed to record user turn", "error", err)
		o.finishError(ch, id, req, 0, err)
		return
	}

	for {
		if ctx.Err() != nil {
			o.finishStopped(ch, id, req)
			return
		}

		iter, err := o.store.BumpIteration(id)
		if errors.Is(err, session.ErrIterationLimit) {
			o.finishExhausted(ch, id, req, iter)
			return
		}
		if err != nil {
			o.finishError(ch, id, req, iter, err)
			return
		}

		resp, err := o.callModel(ctx, id, req.Tools)
		if err != nil {
			if ctx.Err() != nil {
				o.finishStopped(ch, id, req)
				return
			}
			log.Error("Model call failed", "iteration", iter, "error", err)
			o.finishError(ch, id, req, iter, err)
			return
		}

		if err := o.store.AppendTurn(id, domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}); err != nil {
			o.finishError(ch, id, req, iter, err)
			return
		}

		if len(resp.ToolCalls) > 0 {
			results, ok := o.runTools(ctx, ch, id, req, iter, resp.ToolCalls)
			if !ok {
				o.finishStopped(ch, id, req)
				return
			}
			if err := o.store.AppendTurn(id, domain.Turn{
				Role:        domain.RoleTool,
				ToolResults: results,
			}); err != nil {
				o.finishError(ch, id, req, iter, err)
				return
			}
			continue
		}

		verdict := o.classifier.Classify(ctx, req.Input, resp.Content, false)
		if verdict == VerdictContinue {
			log.Debug("Response classified as narration, continuing", "iteration", iter)
			continue
		}

		o.emit(ch, o.event(id, req, domain.EventResponse, iter, map[string]any{
			"content": resp.Content,
		}))
		o.finishDone(ch, id, req, iter)
		return
	}
}

// callModel issues one model call with bounded retry on transient failures.
// Retries do not consume loop iterations; the iteration was charged before
// the first attempt.
func (o *Orchestrator) callModel(ctx context.Context, id string, specs []domain.ToolSpec) (*gateway.ModelResponse, error) {
	sess, ok := o.store.Get(id)
	if !ok {
		return nil, session.ErrNotFound
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			slog.Warn("Retrying model call", "session_id", id, "attempt", attempt, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
		resp, err := o.gw.Call(ctx, sess.History, specs)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !gateway.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// runTools executes one model turn's tool-call batch, returning results in
// call order. A false ok means the session was cancelled mid-batch.
func (o *Orchestrator) runTools(ctx context.Context, ch chan domain.ProgressEvent,
	id string, req StartRequest, iter int, calls []domain.ToolCall) ([]domain.ToolResult, bool) {

	gated := make(map[string]bool, len(req.Tools))
	for _, spec := range req.Tools {
		if spec.RequiresApproval {
			gated[spec.Name] = true
		}
	}
	anyGated := false
	for _, call := range calls {
		if gated[call.Name] {
			anyGated = true
			break
		}
	}

	results := make([]domain.ToolResult, len(calls))

	if req.Parallel && !anyGated && len(calls) > 1 {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call domain.ToolCall) {
				defer wg.Done()
				results[i] = o.execTool(ctx, ch, id, req, iter, call)
			}(i, call)
		}
		wg.Wait()
		return results, ctx.Err() == nil
	}

	for i, call := range calls {
		if ctx.Err() != nil {
			return nil, false
		}
		if gated[call.Name] {
			res, ok := o.execGated(ctx, ch, id, req, iter, call)
			if !ok {
				return nil, false
			}
			results[i] = res
			continue
		}
		results[i] = o.execTool(ctx, ch, id, req, iter, call)
	}
	return results, ctx.Err() == nil
}

// execTool runs one ungated tool call. Failures become failed results, never
// loop errors.
func (o *Orchestrator) execTool(ctx context.Context, ch chan domain.ProgressEvent,
	id string, req StartRequest, iter int, call domain.ToolCall) domain.ToolResult {

	o.emit(ch, o.event(id, req, domain.EventToolCall, iter, map[string]any{
		"name":      call.Name,
		"arguments": rawToAny(call.Arguments),
	}))

	res, err := o.executor.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		res = domain.ToolResult{Success: false, Error: err.Error()}
	}

	payload := map[string]any{"name": call.Name, "success": res.Success}
	if res.Success {
		payload["content"] = res.Content
	} else {
		payload["error"] = res.Error
	}
	o.emit(ch, o.event(id, req, domain.EventToolResult, iter, payload))
	return res
}

// execGated suspends the loop on a human decision before running the call.
// Denial and timeout produce failed results; only cancellation aborts.
func (o *Orchestrator) execGated(ctx context.Context, ch chan domain.ProgressEvent,
	id string, req StartRequest, iter int, call domain.ToolCall) (domain.ToolResult, bool) {

	if err := o.store.SetPendingApproval(id, call); err != nil {
		return domain.ToolResult{Success: false, Error: err.Error()}, true
	}
	o.emit(ch, o.event(id, req, domain.EventApprovalRequired, iter, map[string]any{
		"name":      call.Name,
		"arguments": rawToAny(call.Arguments),
	}))

	decision := o.gate.Wait(ctx, id)

	if decision == DecisionCancelled {
		return domain.ToolResult{}, false
	}
	if err := o.store.ClearPendingApproval(id, domain.StatusRunning); err != nil {
		slog.Warn("Failed to clear pending approval", "session_id", id, "error", err)
	}

	switch decision {
	case DecisionApproved:
		o.emit(ch, o.event(id, req, domain.EventApprovalResolved, iter, map[string]any{
			"name": call.Name, "approved": true,
		}))
		return o.execTool(ctx, ch, id, req, iter, call), true
	case DecisionTimedOut:
		o.emit(ch, o.event(id, req, domain.EventApprovalResolved, iter, map[string]any{
			"name": call.Name, "approved": false, "timedOut": true,
		}))
		return domain.ToolResult{Success: false, Error: "approval timed out"}, true
	default:
		o.emit(ch, o.event(id, req, domain.EventApprovalResolved, iter, map[string]any{
			"name": call.Name, "approved": false,
		}))
		return domain.ToolResult{Success: false, Error: "tool call denied by user"}, true
	}
}

func (o *Orchestrator) finishDone(ch chan domain.ProgressEvent, id string, req StartRequest, iter int) {
	if err := o.store.SetStatus(id, domain.StatusCompleted); err != nil {
		slog.Warn("Failed to mark session completed", "session_id", id, "error", err)
	}
	o.emit(ch, o.event(id, req, domain.EventDone, iter, nil))
	o.persistTranscript(id, req)
	slog.Info("Session completed", "session_id", id, "iterations", iter)
}

// finishExhausted handles iteration-limit exhaustion: the loop, not the
// classifier, synthesizes the fallback answer.
func (o *Orchestrator) finishExhausted(ch chan domain.ProgressEvent,
	id string, req StartRequest, iter int) {

	fallback := "Stopped after reaching the iteration limit before the task finished."
	if sess, ok := o.store.Get(id); ok {
		if last := sess.FinalContent(); last != "" {
			fallback = last + "\n\n(Stopped after reaching the iteration limit.)"
		}
	}
	if err := o.store.AppendTurn(id, domain.Turn{Role: domain.RoleAssistant, Content: fallback}); err != nil {
		slog.Warn("Failed to record fallback turn", "session_id", id, "error", err)
	}
	if err := o.store.MarkTruncated(id); err != nil {
		slog.Warn("Failed to mark session truncated", "session_id", id, "error", err)
	}

	o.emit(ch, o.event(id, req, domain.EventResponse, iter, map[string]any{
		"content":   fallback,
		"truncated": true,
	}))
	o.finishDone(ch, id, req, iter)
}

func (o *Orchestrator) finishStopped(ch chan domain.ProgressEvent, id string, req StartRequest) {
	if err := o.store.SetStatus(id, domain.StatusStopped); err != nil {
		slog.Warn("Failed to mark session stopped", "session_id", id, "error", err)
	}
	sess, _ := o.store.Get(id)
	o.emit(ch, o.event(id, req, domain.EventStopped, sess.IterationCount, nil))
	o.persistTranscript(id, req)
	slog.Info("Session stopped", "session_id", id)
}

func (o *Orchestrator) finishError(ch chan domain.ProgressEvent,
	id string, req StartRequest, iter int, cause error) {
	if err := o.store.SetStatus(id, domain.StatusError); err != nil {
		slog.Warn("Failed to mark session errored", "session_id", id, "error", err)
	}
	o.emit(ch, o.event(id, req, domain.EventError, iter, map[string]any{
		"error": cause.Error(),
	}))
	o.persistTranscript(id, req)
}

// persistTranscript saves the session history under its conversation. Failures
// are logged and swallowed; the session outcome is already decided.
func (o *Orchestrator) persistTranscript(id string, req StartRequest) {
	if o.transcripts == nil {
		return
	}
	sess, ok := o.store.Get(id)
	if !ok {
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = sess.ID
	}
	conv := domain.Conversation{
		ID:        convID,
		Title:     transcriptTitle(req.Input),
		SessionID: sess.ID,
		Turns:     sess.History,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.transcripts.SaveTranscript(ctx, conv); err != nil {
		slog.Warn("Failed to persist transcript", "session_id", id, "error", err)
	}
}

func transcriptTitle(input string) string {
	const max = 80
	if len(input) <= max {
		return input
	}
	return fmt.Sprintf("%s...", input[:max])
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
