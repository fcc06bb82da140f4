package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Decision is the outcome of an approval wait.
type Decision int

const (
	// DecisionApproved means an external actor approved the tool call.
	DecisionApproved Decision = iota
	// DecisionDenied means an external actor denied the tool call.
	DecisionDenied
	// DecisionTimedOut means no decision arrived within the gate timeout.
	DecisionTimedOut
	// DecisionCancelled means the session was cancelled while waiting.
	DecisionCancelled
)

// ErrNoWait is returned when resolving a session with no outstanding
// approval wait.
var ErrNoWait = errors.New("no approval pending for session")

// Gate suspends loop iterations on gated tool calls until an external
// decision arrives, the wait times out, or the session is cancelled. Only one
// wait may be outstanding per session.
type Gate struct {
	mu      sync.Mutex
	waits   map[string]chan bool
	timeout time.Duration
}

// NewGate creates a gate with the given per-request timeout.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{
		waits:   make(map[string]chan bool),
		timeout: timeout,
	}
}

// Wait blocks the calling iteration until the approval is resolved. A second
// concurrent wait for the same session is refused as a denial rather than
// corrupting the first.
func (g *Gate) Wait(ctx context.Context, sessionID string) Decision {
	ch := make(chan bool, 1)

	g.mu.Lock()
	if _, exists := g.waits[sessionID]; exists {
		g.mu.Unlock()
		return DecisionDenied
	}
	g.waits[sessionID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.waits, sessionID)
		g.mu.Unlock()
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		if approved {
			return DecisionApproved
		}
		return DecisionDenied
	case <-timer.C:
		return DecisionTimedOut
	case <-ctx.Done():
		return DecisionCancelled
	}
}

// Resolve delivers an external decision to the session's outstanding wait.
func (g *Gate) Resolve(sessionID string, approved bool) error {
	g.mu.Lock()
	ch, ok := g.waits[sessionID]
	if ok {
		// Remove immediately so a duplicate resolve cannot double-send.
		delete(g.waits, sessionID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrNoWait
	}
	ch <- approved
	return nil
}

// Pending reports whether the session has an outstanding approval wait.
func (g *Gate) Pending(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waits[sessionID]
	return ok
}
