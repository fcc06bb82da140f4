package domain

import "time"

// Conversation is a persisted transcript of one or more completed sessions
// sharing a conversation ID. Sessions themselves are process-lifetime only;
// only their transcripts survive.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
