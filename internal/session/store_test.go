package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voxagent/voxagent/internal/domain"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore()
	sess := s.Create("conv-1", "profile-1", 5)

	if sess.ID == "" {
		t.Fatal("Expected non-empty session ID")
	}
	if sess.Status != domain.StatusRunning {
		t.Errorf("Expected status running, got %s", sess.Status)
	}
	if sess.MaxIterations != 5 {
		t.Errorf("Expected max iterations 5, got %d", sess.MaxIterations)
	}

	got, ok := s.Get(sess.ID)
	if !ok {
		t.Fatal("Expected session to exist")
	}
	if got.ConversationID != "conv-1" || got.ProfileID != "profile-1" {
		t.Errorf("Unexpected session fields: %+v", got)
	}
}

func TestGetReturnsDeepCopy(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 5)

	if err := s.AppendTurn(sess.ID, domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   "working",
		ToolCalls: []domain.ToolCall{{Name: "shell", Arguments: json.RawMessage(`{"cmd":"ls"}`)}},
	}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	a, _ := s.Get(sess.ID)
	a.History[0].Content = "mutated"
	a.History[0].ToolCalls[0].Arguments[0] = 'X'

	b, _ := s.Get(sess.ID)
	if b.History[0].Content != "working" {
		t.Error("Snapshot mutation leaked into store")
	}
	if string(b.History[0].ToolCalls[0].Arguments) != `{"cmd":"ls"}` {
		t.Error("Argument mutation leaked into store")
	}
}

func TestAppendTurnIsAppendOnly(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 5)

	for i := 0; i < 3; i++ {
		if err := s.AppendTurn(sess.ID, domain.Turn{Role: domain.RoleUser, Content: "msg"}); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	got, _ := s.Get(sess.ID)
	if len(got.History) != 3 {
		t.Errorf("Expected 3 turns, got %d", len(got.History))
	}
	for _, turn := range got.History {
		if turn.Timestamp.IsZero() {
			t.Error("Expected timestamp to be defaulted")
		}
	}
}

func TestBumpIterationCeiling(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 2)

	for i := 1; i <= 2; i++ {
		n, err := s.BumpIteration(sess.ID)
		if err != nil {
			t.Fatalf("BumpIteration %d failed: %v", i, err)
		}
		if n != i {
			t.Errorf("Expected iteration %d, got %d", i, n)
		}
	}

	n, err := s.BumpIteration(sess.ID)
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("Expected ErrIterationLimit, got %v", err)
	}
	if n != 2 {
		t.Errorf("Counter moved past ceiling: %d", n)
	}
}

func TestPendingApprovalInvariant(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 5)
	call := domain.ToolCall{Name: "shell"}

	if err := s.SetPendingApproval(sess.ID, call); err != nil {
		t.Fatalf("SetPendingApproval failed: %v", err)
	}
	got, _ := s.Get(sess.ID)
	if got.Status != domain.StatusAwaitingApproval {
		t.Errorf("Expected awaiting_approval, got %s", got.Status)
	}
	if got.PendingApproval == nil || got.PendingApproval.ToolCall.Name != "shell" {
		t.Error("Expected pending approval to record the gated call")
	}

	// Only one approval may be outstanding.
	if err := s.SetPendingApproval(sess.ID, call); !errors.Is(err, ErrApprovalPending) {
		t.Fatalf("Expected ErrApprovalPending, got %v", err)
	}

	if err := s.ClearPendingApproval(sess.ID, domain.StatusRunning); err != nil {
		t.Fatalf("ClearPendingApproval failed: %v", err)
	}
	got, _ = s.Get(sess.ID)
	if got.Status != domain.StatusRunning || got.PendingApproval != nil {
		t.Errorf("Expected cleared running session, got %+v", got)
	}

	if err := s.ClearPendingApproval(sess.ID, domain.StatusRunning); !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("Expected ErrNoPendingApproval, got %v", err)
	}
}

func TestSetStatusClearsApprovalOnLeave(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 5)

	if err := s.SetPendingApproval(sess.ID, domain.ToolCall{Name: "shell"}); err != nil {
		t.Fatalf("SetPendingApproval failed: %v", err)
	}
	if err := s.SetStatus(sess.ID, domain.StatusStopped); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	got, _ := s.Get(sess.ID)
	if got.PendingApproval != nil {
		t.Error("Expected pending approval cleared when leaving awaiting_approval")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewStore()
	sess := s.Create("", "", 5)

	ctx := s.Context(sess.ID)
	if ctx.Err() != nil {
		t.Fatal("Context cancelled before Cancel")
	}

	if !s.Cancel(sess.ID) {
		t.Fatal("Cancel reported unknown session")
	}
	if ctx.Err() == nil {
		t.Fatal("Context not cancelled after Cancel")
	}
	// Second cancel is a no-op, not a panic.
	if !s.Cancel(sess.ID) {
		t.Fatal("Second Cancel reported unknown session")
	}

	if s.Cancel("missing") {
		t.Error("Cancel of unknown session reported success")
	}
}

func TestCancelAllSkipsTerminal(t *testing.T) {
	s := NewStore()
	a := s.Create("", "", 5)
	b := s.Create("", "", 5)
	if err := s.SetStatus(b.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if n := s.CancelAll(); n != 1 {
		t.Errorf("Expected 1 cancellation, got %d", n)
	}
	if s.Context(a.ID).Err() == nil {
		t.Error("Active session not cancelled")
	}
}

func TestListActiveOnly(t *testing.T) {
	s := NewStore()
	s.Create("", "", 5)
	done := s.Create("", "", 5)
	if err := s.SetStatus(done.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if got := len(s.List(Filter{})); got != 2 {
		t.Errorf("Expected 2 sessions, got %d", got)
	}
	active := s.List(Filter{ActiveOnly: true})
	if len(active) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(active))
	}
	if active[0].ID == done.ID {
		t.Error("Terminal session listed as active")
	}
}

func TestRemoveTerminalOlderThan(t *testing.T) {
	s := NewStore()
	oldDone := s.Create("", "", 5)
	freshDone := s.Create("", "", 5)
	active := s.Create("", "", 5)

	if err := s.SetStatus(oldDone.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	if err := s.SetStatus(freshDone.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	removed := s.RemoveTerminalOlderThan(cutoff)
	if len(removed) != 1 || removed[0] != oldDone.ID {
		t.Errorf("Expected only old terminal session removed, got %v", removed)
	}
	if _, ok := s.Get(active.ID); !ok {
		t.Error("Active session was evicted")
	}
	if _, ok := s.Get(freshDone.ID); !ok {
		t.Error("Fresh terminal session was evicted")
	}
}
