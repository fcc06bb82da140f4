package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxagent/voxagent/internal/domain"
	"github.com/voxagent/voxagent/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT,
		session_id TEXT,
		turns_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveTranscript creates or replaces a conversation transcript.
// Retries with exponential backoff on SQLITE_BUSY since transcript writes
// race with cleanup under WAL checkpointing.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, conv domain.Conversation) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.saveTranscriptOnce(ctx, conv)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("SaveTranscript hit SQLITE_BUSY, retrying",
				"conversation_id", conv.ID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("save transcript for %s: %w", conv.ID, err)
	}

	return nil
}

func (s *SQLiteStore) saveTranscriptOnce(ctx context.Context, conv domain.Conversation) error {
	turns, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}

	query := `
	INSERT INTO conversations (id, title, session_id, turns_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
		session_id = excluded.session_id,
		turns_json = excluded.turns_json,
		updated_at = excluded.updated_at`

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := conv.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		conv.ID, conv.Title, conv.SessionID, string(turns),
		createdAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, title, session_id, turns_json, created_at, updated_at
		FROM conversations WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var conv domain.Conversation
	var title, sessionID sql.NullString
	var turnsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&conv.ID, &title, &sessionID, &turnsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.Title = title.String
	conv.SessionID = sessionID.String
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(turnsJSON), &conv.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns for %s: %w", id, err)
	}

	return &conv, nil
}

// ListConversations returns conversation summaries, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, title, session_id, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var out []*domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var title, sessionID sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&conv.ID, &title, &sessionID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}

		conv.Title = title.String
		conv.SessionID = sessionID.String
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return out, nil
}

// DeleteConversation removes a conversation.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// CleanupOlderThan removes conversations last updated before the cutoff.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
