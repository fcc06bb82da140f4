package domain

import "time"

// EventType categorizes progress events emitted by the orchestration loop.
type EventType string

const (
	// EventStarted is emitted once when a session begins.
	EventStarted EventType = "started"
	// EventToolCall is emitted before a tool invocation.
	EventToolCall EventType = "tool_call"
	// EventToolResult is emitted after a tool invocation returns.
	EventToolResult EventType = "tool_result"
	// EventApprovalRequired is emitted when the loop suspends on a gated tool call.
	EventApprovalRequired EventType = "approval_required"
	// EventApprovalResolved is emitted when a pending approval is decided or times out.
	EventApprovalResolved EventType = "approval_resolved"
	// EventResponse carries the final assistant content.
	EventResponse EventType = "response"
	// EventDone marks successful termination.
	EventDone EventType = "done"
	// EventError marks abnormal termination on a model-call failure.
	EventError EventType = "error"
	// EventStopped marks termination by cancellation.
	EventStopped EventType = "stopped"
)

// ProgressEvent is an immutable notification describing one step of a
// session's evolution. Events for a single session are ordered by emission;
// consumers must not assume cross-session ordering.
type ProgressEvent struct {
	ID             int64          `json:"id"`
	Type           EventType      `json:"type"`
	SessionID      string         `json:"sessionId"`
	ConversationID string         `json:"conversationId,omitempty"`
	Iteration      int            `json:"iteration"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ClonePayload returns a shallow copy of the payload map so queued events
// cannot observe later mutations. Payload values are themselves treated as
// immutable by convention.
func (e ProgressEvent) ClonePayload() ProgressEvent {
	if e.Payload == nil {
		return e
	}
	p := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		p[k] = v
	}
	e.Payload = p
	return e
}
