// Package session provides the in-memory session record store and its
// cleanup sweeper. Sessions are process-lifetime only; the store is the sole
// owner of live AgentSession records and hands out deep copies everywhere.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxagent/voxagent/internal/domain"
)

var (
	// ErrNotFound is returned for operations on unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrApprovalPending is returned when a second approval is requested
	// while one is already outstanding.
	ErrApprovalPending = errors.New("approval already pending")
	// ErrNoPendingApproval is returned when resolving a session with no
	// outstanding approval.
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrIterationLimit is returned when bumping the iteration counter past
	// the session's ceiling.
	ErrIterationLimit = errors.New("iteration limit reached")
)

// record pairs a session with its write lock and cancellation context.
// Different sessions mutate under different locks; the store-level RWMutex
// only guards the registry map itself.
type record struct {
	mu     sync.Mutex
	sess   domain.AgentSession
	ctx    context.Context
	cancel context.CancelFunc
}

// Store holds every in-flight and recently-terminal session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*record)}
}

// Filter selects sessions for List.
type Filter struct {
	// ActiveOnly restricts the result to non-terminal sessions.
	ActiveOnly bool
}

// Create registers a new running session and returns its snapshot.
func (s *Store) Create(conversationID, profileID string, maxIterations int) domain.AgentSession {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		sess: domain.AgentSession{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			ProfileID:      profileID,
			Status:         domain.StatusRunning,
			MaxIterations:  maxIterations,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	s.sessions[rec.sess.ID] = rec
	s.mu.Unlock()

	return rec.sess.Clone()
}

func (s *Store) get(id string) (*record, bool) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	return rec, ok
}

// Get returns a snapshot of the session with the given ID.
func (s *Store) Get(id string) (domain.AgentSession, bool) {
	rec, ok := s.get(id)
	if !ok {
		return domain.AgentSession{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sess.Clone(), true
}

// List returns snapshots of all sessions matching the filter, unordered.
func (s *Store) List(f Filter) []domain.AgentSession {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]domain.AgentSession, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !f.ActiveOnly || !rec.sess.Status.Terminal() {
			out = append(out, rec.sess.Clone())
		}
		rec.mu.Unlock()
	}
	return out
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Context returns the session's cancellation context. The background context
// is returned for unknown IDs so callers can always derive from the result.
func (s *Store) Context(id string) context.Context {
	rec, ok := s.get(id)
	if !ok {
		return context.Background()
	}
	return rec.ctx
}

// AppendTurn appends a history turn. History is append-only; turns are deep
// copied on the way in so callers cannot mutate them afterwards.
func (s *Store) AppendTurn(id string, turn domain.Turn) error {
	rec, ok := s.get(id)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	rec.sess.History = append(rec.sess.History, turn.Clone())
	rec.sess.UpdatedAt = time.Now()
	return nil
}

// BumpIteration increments the iteration counter and returns the new value.
// The counter never exceeds MaxIterations.
func (s *Store) BumpIteration(id string) (int, error) {
	rec, ok := s.get(id)
	if !ok {
		return 0, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sess.IterationCount >= rec.sess.MaxIterations {
		return rec.sess.IterationCount, ErrIterationLimit
	}
	rec.sess.IterationCount++
	rec.sess.UpdatedAt = time.Now()
	return rec.sess.IterationCount, nil
}

// SetStatus transitions the session's status. Leaving awaiting_approval
// clears the pending approval record, preserving the pairing invariant.
func (s *Store) SetStatus(id string, status domain.Status) error {
	rec, ok := s.get(id)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sess.Status = status
	if status != domain.StatusAwaitingApproval {
		rec.sess.PendingApproval = nil
	}
	rec.sess.UpdatedAt = time.Now()
	return nil
}

// SetPendingApproval suspends the session on a gated tool call. At most one
// approval may be outstanding per session.
func (s *Store) SetPendingApproval(id string, call domain.ToolCall) error {
	rec, ok := s.get(id)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sess.PendingApproval != nil {
		return ErrApprovalPending
	}
	rec.sess.PendingApproval = &domain.PendingApproval{
		ToolCall:  call.Clone(),
		CreatedAt: time.Now(),
	}
	rec.sess.Status = domain.StatusAwaitingApproval
	rec.sess.UpdatedAt = time.Now()
	return nil
}

// ClearPendingApproval resumes a suspended session into the given status.
func (s *Store) ClearPendingApproval(id string, next domain.Status) error {
	rec, ok := s.get(id)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sess.PendingApproval == nil {
		return ErrNoPendingApproval
	}
	rec.sess.PendingApproval = nil
	rec.sess.Status = next
	rec.sess.UpdatedAt = time.Now()
	return nil
}

// MarkTruncated flags the session as completed via iteration exhaustion.
func (s *Store) MarkTruncated(id string) error {
	rec, ok := s.get(id)
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sess.Truncated = true
	rec.sess.UpdatedAt = time.Now()
	return nil
}

// Cancel triggers the session's cancellation signal. The signal is one-shot
// and idempotent; Cancel reports whether the session exists.
func (s *Store) Cancel(id string) bool {
	rec, ok := s.get(id)
	if !ok {
		return false
	}
	rec.cancel()
	return true
}

// CancelAll cancels every non-terminal session and returns the count.
func (s *Store) CancelAll() int {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	n := 0
	for _, rec := range recs {
		rec.mu.Lock()
		active := !rec.sess.Status.Terminal()
		rec.mu.Unlock()
		if active {
			rec.cancel()
			n++
		}
	}
	return n
}

// Remove deletes a session and releases its cancellation resources.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if ok {
		rec.cancel()
	}
	return ok
}

// RemoveTerminalOlderThan removes sessions that are both terminal and last
// updated before the cutoff, returning the IDs removed. Active sessions are
// never touched regardless of age.
func (s *Store) RemoveTerminalOlderThan(cutoff time.Time) []string {
	s.mu.RLock()
	candidates := make(map[string]*record, len(s.sessions))
	for id, rec := range s.sessions {
		candidates[id] = rec
	}
	s.mu.RUnlock()

	var removed []string
	for id, rec := range candidates {
		rec.mu.Lock()
		evict := rec.sess.Status.Terminal() && rec.sess.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()
		if evict && s.Remove(id) {
			removed = append(removed, id)
		}
	}
	return removed
}
