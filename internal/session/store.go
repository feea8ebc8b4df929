// Package session persists ConversationState between turns, keyed by session id.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when stored session data cannot be used
	ErrInvalidSession = errors.New("invalid session")
)

// Store is the checkpoint collaborator of the orchestrator. Load of an unknown id
// returns ErrSessionNotFound; the caller then starts a fresh state.
type Store interface {
	Load(ctx context.Context, sessionID string) (*state.ConversationState, error)
	Save(ctx context.Context, st *state.ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

// Config selects and tunes a backend.
type Config struct {
	Backend       string        `mapstructure:"backend"` // memory, redis or sqlite
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	TTL           time.Duration `mapstructure:"ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
}

const (
	defaultTTL       = 24 * time.Hour
	defaultCacheSize = 10000
)

func encode(st *state.ConversationState) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", ErrInvalidSession)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decode(sessionID string, data []byte) (*state.ConversationState, error) {
	var st state.ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if st.SessionID != sessionID {
		return nil, fmt.Errorf("%w: stored id %q does not match %q", ErrInvalidSession, st.SessionID, sessionID)
	}
	if st.Transcript == nil {
		st.Transcript = []state.Message{}
	}
	return &st, nil
}
