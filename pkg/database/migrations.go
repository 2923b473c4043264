package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates GIN indexes for PostgreSQL that plain migration SQL
// does not cover. They enable full-text search over event messages and
// containment queries over event payloads and checkpoint state.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	// Full-text search over event messages
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_message_gin
		ON events USING gin(to_tsvector('english', COALESCE(message, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create events message GIN index: %w", err)
	}

	// JSONB containment queries over event payloads
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_payload_gin
		ON events USING gin(payload)`)
	if err != nil {
		return fmt.Errorf("failed to create events payload GIN index: %w", err)
	}

	// JSONB containment queries over checkpoint state
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_state_gin
		ON checkpoints USING gin(state)`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoints state GIN index: %w", err)
	}

	return nil
}
