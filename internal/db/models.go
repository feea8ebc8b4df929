package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// toJSONB converts any JSON-encodable value into a JSONB map.
func toJSONB(v any) (JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TurnRecord is one row of the turn audit log
type TurnRecord struct {
	ID           uuid.UUID      `db:"id"`
	TurnID       string         `db:"turn_id"`
	SessionID    string         `db:"session_id"`
	TurnNumber   int            `db:"turn_number"`
	UserInput    string         `db:"user_input"`
	RoutedAction string         `db:"routed_action"`
	Action       string         `db:"action"`
	Capability   *string        `db:"capability"`
	Reply        string         `db:"reply"`
	Diff         pq.StringArray `db:"diff"`
	Fallback     bool           `db:"fallback"`
	ErrorMessage *string        `db:"error_message"`
	DurationMs   int64          `db:"duration_ms"`
	CreatedAt    time.Time      `db:"created_at"`
}

// NewTurnRecord maps a turn event onto its row.
func NewTurnRecord(ev state.TurnEvent) *TurnRecord {
	rec := &TurnRecord{
		ID:           uuid.New(),
		TurnID:       ev.TurnID,
		SessionID:    ev.SessionID,
		TurnNumber:   ev.TurnNumber,
		UserInput:    ev.UserInput,
		RoutedAction: string(ev.RoutedAction),
		Action:       string(ev.Action),
		Reply:        ev.Reply,
		Diff:         pq.StringArray(ev.Diff),
		Fallback:     ev.Fallback,
		DurationMs:   ev.DurationMs,
		CreatedAt:    ev.CreatedAt,
	}
	if rec.Diff == nil {
		rec.Diff = pq.StringArray{}
	}
	if ev.Capability != "" {
		c := string(ev.Capability)
		rec.Capability = &c
	}
	if ev.Error != "" {
		e := ev.Error
		rec.ErrorMessage = &e
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return rec
}

// Event converts the row back into a turn event.
func (r *TurnRecord) Event() state.TurnEvent {
	ev := state.TurnEvent{
		TurnID:       r.TurnID,
		SessionID:    r.SessionID,
		TurnNumber:   r.TurnNumber,
		UserInput:    r.UserInput,
		RoutedAction: state.Action(r.RoutedAction),
		Action:       state.Action(r.Action),
		Reply:        r.Reply,
		Diff:         state.Diff(r.Diff),
		Fallback:     r.Fallback,
		DurationMs:   r.DurationMs,
		CreatedAt:    r.CreatedAt,
	}
	if r.Capability != nil {
		ev.Capability = state.Capability(*r.Capability)
	}
	if r.ErrorMessage != nil {
		ev.Error = *r.ErrorMessage
	}
	return ev
}

// SessionArchive represents a snapshot of a session taken before it is reset
type SessionArchive struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`

	// Snapshot data
	SnapshotData JSONB `db:"snapshot_data"`
	MessageCount int   `db:"message_count"`
	TurnCount    int   `db:"turn_count"`

	// Timing
	SessionStartedAt time.Time `db:"session_started_at"`
	SnapshotTakenAt  time.Time `db:"snapshot_taken_at"`
}

// NewSessionArchive snapshots st.
func NewSessionArchive(st *state.ConversationState) (*SessionArchive, error) {
	snapshot, err := toJSONB(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	return &SessionArchive{
		ID:               uuid.New(),
		SessionID:        st.SessionID,
		SnapshotData:     snapshot,
		MessageCount:     len(st.Transcript),
		TurnCount:        st.TurnCount,
		SessionStartedAt: st.CreatedAt,
		SnapshotTakenAt:  time.Now().UTC(),
	}, nil
}

// TurnFilter provides filtering options for turn queries
type TurnFilter struct {
	SessionID string
	Action    string
	Since     *time.Time
	Limit     int
	Offset    int
}
