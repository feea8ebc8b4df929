package db

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

const defaultTurnListLimit = 50

// SaveTurn inserts a turn record. Replayed turn IDs are ignored.
func (c *Client) SaveTurn(ctx context.Context, turn *TurnRecord) error {
	query := `
		INSERT INTO assistant_turns (
			id, turn_id, session_id, turn_number, user_input, routed_action,
			action, capability, reply, diff, fallback, error_message,
			duration_ms, created_at
		) VALUES (
			:id, :turn_id, :session_id, :turn_number, :user_input, :routed_action,
			:action, :capability, :reply, :diff, :fallback, :error_message,
			:duration_ms, :created_at
		)
		ON CONFLICT (turn_id) DO NOTHING`

	_, err := c.db.NamedExecContext(ctx, query, turn)
	recordWrite(err)
	if err != nil {
		return fmt.Errorf("failed to save turn %s: %w", turn.TurnID, err)
	}
	return nil
}

// ListTurns returns turns matching the filter, oldest first.
func (c *Client) ListTurns(ctx context.Context, filter TurnFilter) ([]TurnRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}

	query := `SELECT id, turn_id, session_id, turn_number, user_input, routed_action,
		action, capability, reply, diff, fallback, error_message, duration_ms, created_at
		FROM assistant_turns`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTurnListLimit
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at ASC, turn_number ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var turns []TurnRecord
	if err := c.db.SelectContext(ctx, &turns, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

// SaveSessionArchive stores a session snapshot.
func (c *Client) SaveSessionArchive(ctx context.Context, archive *SessionArchive) error {
	query := `
		INSERT INTO session_archives (
			id, session_id, snapshot_data, message_count, turn_count,
			session_started_at, snapshot_taken_at
		) VALUES (
			:id, :session_id, :snapshot_data, :message_count, :turn_count,
			:session_started_at, :snapshot_taken_at
		)`

	_, err := c.db.NamedExecContext(ctx, query, archive)
	recordWrite(err)
	if err != nil {
		return fmt.Errorf("failed to save session archive for %s: %w", archive.SessionID, err)
	}
	return nil
}

// LatestArchive returns the most recent snapshot of a session.
func (c *Client) LatestArchive(ctx context.Context, sessionID string) (*SessionArchive, error) {
	var archive SessionArchive
	err := c.db.GetContext(ctx, &archive, `
		SELECT id, session_id, snapshot_data, message_count, turn_count,
			session_started_at, snapshot_taken_at
		FROM session_archives
		WHERE session_id = $1
		ORDER BY snapshot_taken_at DESC
		LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive for %s: %w", sessionID, err)
	}
	return &archive, nil
}

// RecordTurn queues a turn event for persistence. It matches the
// orchestrator's turn sink signature.
func (c *Client) RecordTurn(_ context.Context, ev state.TurnEvent) error {
	return c.QueueWrite(WriteTypeTurn, NewTurnRecord(ev), func(err error) {
		if err != nil {
			c.logger.Debug("Turn record not persisted",
				zap.String("session_id", ev.SessionID),
				zap.String("turn_id", ev.TurnID),
			)
		}
	})
}

// ArchiveSession queues a snapshot of st.
func (c *Client) ArchiveSession(_ context.Context, st *state.ConversationState) error {
	archive, err := NewSessionArchive(st)
	if err != nil {
		return err
	}
	return c.QueueWrite(WriteTypeSessionArchive, archive, nil)
}
