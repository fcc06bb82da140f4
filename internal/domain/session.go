// Package domain defines the core data model for agent sessions.
package domain

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an agent session.
type Status string

const (
	// StatusRunning indicates the orchestration loop is actively iterating.
	StatusRunning Status = "running"
	// StatusAwaitingApproval indicates the loop is suspended on a gated tool call.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusCompleted indicates the session produced a final answer.
	StatusCompleted Status = "completed"
	// StatusStopped indicates the session was cancelled by a caller.
	StatusStopped Status = "stopped"
	// StatusError indicates the session terminated on a model-call failure.
	StatusError Status = "error"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Clone returns a deep copy of the tool call.
func (c ToolCall) Clone() ToolCall {
	out := c
	if len(c.Arguments) > 0 {
		out.Arguments = append(json.RawMessage(nil), c.Arguments...)
	}
	return out
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	// RequiresApproval marks the tool as gated: the loop must obtain a human
	// decision before executing it.
	RequiresApproval bool `json:"requiresApproval,omitempty"`
}

// Conversation roles used in history turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is one entry in a session's conversation history. Turns are immutable
// once appended.
type Turn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	if len(t.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			out.ToolCalls[i] = c.Clone()
		}
	}
	if len(t.ToolResults) > 0 {
		out.ToolResults = append([]ToolResult(nil), t.ToolResults...)
	}
	return out
}

// PendingApproval records the gated tool call a session is suspended on.
type PendingApproval struct {
	ToolCall  ToolCall  `json:"toolCall"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentSession is the unit of work: one user task's end-to-end agent run.
// The session record store owns the live instance; everything handed to
// callers is a deep copy.
type AgentSession struct {
	ID              string           `json:"id"`
	ConversationID  string           `json:"conversationId,omitempty"`
	ProfileID       string           `json:"profileId,omitempty"`
	Status          Status           `json:"status"`
	IterationCount  int              `json:"iterationCount"`
	MaxIterations   int              `json:"maxIterations"`
	History         []Turn           `json:"history"`
	PendingApproval *PendingApproval `json:"pendingApproval,omitempty"`
	// Truncated is set when the session completed via the iteration-exhaustion
	// fallback rather than a final model answer.
	Truncated bool      `json:"truncated,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the session record.
func (s *AgentSession) Clone() AgentSession {
	out := *s
	if len(s.History) > 0 {
		out.History = make([]Turn, len(s.History))
		for i, t := range s.History {
			out.History[i] = t.Clone()
		}
	}
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		pa.ToolCall = s.PendingApproval.ToolCall.Clone()
		out.PendingApproval = &pa
	}
	return out
}

// FinalContent returns the content of the most recent assistant turn, or ""
// if the session has not produced one.
func (s *AgentSession) FinalContent() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant && s.History[i].Content != "" {
			return s.History[i].Content
		}
	}
	return ""
}
