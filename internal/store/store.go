// Package store provides transcript persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/voxagent/voxagent/internal/domain"
)

// Repository defines the interface for persisting conversation transcripts.
type Repository interface {
	// SaveTranscript creates or replaces a conversation transcript.
	SaveTranscript(ctx context.Context, conv domain.Conversation) error

	// GetConversation retrieves a conversation by ID. A missing conversation
	// returns (nil, nil).
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns conversation summaries, newest first. Turns are
	// not populated.
	ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error)

	// DeleteConversation removes a conversation. Deleting a missing
	// conversation is not an error.
	DeleteConversation(ctx context.Context, id string) error

	// CleanupOlderThan removes conversations last updated before the cutoff
	// and returns the count removed.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
