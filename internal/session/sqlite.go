package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/circuitbreaker"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

const sqliteBackend = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_checkpoints (
    session_id  TEXT PRIMARY KEY,
    state       BLOB NOT NULL,
    turn_count  INTEGER NOT NULL DEFAULT 0,
    updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_checkpoints_updated ON session_checkpoints(updated_at);
`

type checkpointRow struct {
	SessionID string    `db:"session_id"`
	State     []byte    `db:"state"`
	TurnCount int       `db:"turn_count"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SQLiteStore keeps one checkpoint row per session in a local SQLite file.
// Rows older than the TTL are treated as missing and purged lazily.
type SQLiteStore struct {
	db     *circuitbreaker.DatabaseWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string, ttl time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent turns
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     circuitbreaker.NewDatabaseWrapper(db, sqliteBackend, logger),
		ttl:    ttl,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	logger.Info("SQLite session store ready", zap.String("path", path))
	return store, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*state.ConversationState, error) {
	var row checkpointRow
	err := s.db.GetContext(ctx, &row,
		`SELECT session_id, state, turn_count, updated_at FROM session_checkpoints WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordSessionOp(sqliteBackend, "load", nil)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		metrics.RecordSessionOp(sqliteBackend, "load", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if time.Since(row.UpdatedAt) > s.ttl {
		metrics.RecordSessionOp(sqliteBackend, "load", nil)
		if err := s.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to purge expired session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, ErrSessionNotFound
	}

	st, err := decode(sessionID, row.State)
	metrics.RecordSessionOp(sqliteBackend, "load", err)
	return st, err
}

// Save implements Store with an upsert.
func (s *SQLiteStore) Save(ctx context.Context, st *state.ConversationState) error {
	data, err := encode(st)
	if err != nil {
		metrics.RecordSessionOp(sqliteBackend, "save", err)
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO session_checkpoints (session_id, state, turn_count, updated_at)
		VALUES (:session_id, :state, :turn_count, :updated_at)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			turn_count = excluded.turn_count,
			updated_at = excluded.updated_at`,
		checkpointRow{
			SessionID: st.SessionID,
			State:     data,
			TurnCount: st.TurnCount,
			UpdatedAt: time.Now().UTC(),
		})
	metrics.RecordSessionOp(sqliteBackend, "save", err)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_checkpoints WHERE session_id = ?`, sessionID)
	metrics.RecordSessionOp(sqliteBackend, "delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Wrapper exposes the circuit-broken handle for health checks.
func (s *SQLiteStore) Wrapper() *circuitbreaker.DatabaseWrapper {
	return s.db
}
