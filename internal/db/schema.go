package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS assistant_turns (
		id UUID PRIMARY KEY,
		turn_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		user_input TEXT NOT NULL DEFAULT '',
		routed_action TEXT NOT NULL,
		action TEXT NOT NULL,
		capability TEXT,
		reply TEXT NOT NULL DEFAULT '',
		diff TEXT[] NOT NULL DEFAULT '{}',
		fallback BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assistant_turns_session ON assistant_turns (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS session_archives (
		id UUID PRIMARY KEY,
		session_id TEXT NOT NULL,
		snapshot_data JSONB NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		turn_count INTEGER NOT NULL DEFAULT 0,
		session_started_at TIMESTAMPTZ,
		snapshot_taken_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_archives_session ON session_archives (session_id, snapshot_taken_at DESC)`,
}

// Migrate creates the audit tables when they are missing.
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
