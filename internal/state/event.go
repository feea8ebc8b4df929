package state

import "time"

// TurnEvent summarises one completed turn for the audit log and live subscribers.
type TurnEvent struct {
	TurnID       string     `json:"turn_id" db:"turn_id"`
	SessionID    string     `json:"session_id" db:"session_id"`
	TurnNumber   int        `json:"turn_number" db:"turn_number"`
	UserInput    string     `json:"user_input" db:"user_input"`
	RoutedAction Action     `json:"routed_action" db:"routed_action"`
	Action       Action     `json:"action" db:"action"`
	Capability   Capability `json:"capability,omitempty" db:"capability"`
	Reply        string     `json:"reply" db:"reply"`
	Diff         Diff       `json:"diff" db:"-"`
	Fallback     bool       `json:"fallback" db:"fallback"`
	Error        string     `json:"error,omitempty" db:"error"`
	DurationMs   int64      `json:"duration_ms" db:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
