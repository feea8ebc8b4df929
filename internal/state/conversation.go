package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

// ErrHandOffInvariant is returned when a hand-off would be flagged without its payload.
var ErrHandOffInvariant = errors.New("needs_post_processing requires pending output and capability")

// ConversationState is the durable record of one session. It is mutated only
// through Apply.
type ConversationState struct {
	SessionID  string         `json:"session_id"`
	Transcript []Message      `json:"transcript"`
	UserInput  string         `json:"user_input"`
	ProfileURL string         `json:"profile_url,omitempty"`
	Profile    map[string]any `json:"profile"`

	Analysis Slot `json:"analysis"`
	Rewrite  Slot `json:"rewrite"`
	JobFit   Slot `json:"job_fit"`
	Guide    Slot `json:"guide"`

	JobDescription      string        `json:"job_description,omitempty"`
	TargetRole          string        `json:"target_role,omitempty"`
	PendingInstructions *Instructions `json:"pending_instructions,omitempty"`

	RoutingAction      Action `json:"routing_action,omitempty"`
	ProposedNextAction Action `json:"proposed_next_action,omitempty"`

	PendingOutput       any        `json:"pending_output,omitempty"`
	PendingCapability   Capability `json:"pending_capability,omitempty"`
	NeedsPostProcessing bool       `json:"needs_post_processing"`

	AwaitingConfirmation   bool       `json:"awaiting_confirmation"`
	AwaitingJobDescription bool       `json:"awaiting_job_description"`
	UserRequestedUpdate    bool       `json:"user_requested_update"`
	LastAgentCalled        Capability `json:"last_agent_called,omitempty"`
	CurrentTaskStatus      string     `json:"current_task_status,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty state for sessionID.
func New(sessionID string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		SessionID:  sessionID,
		Transcript: []Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Slot returns the result slot of c, or nil for an unknown capability.
func (s *ConversationState) Slot(c Capability) *Slot {
	switch c {
	case CapabilityAnalyze:
		return &s.Analysis
	case CapabilityRewrite:
		return &s.Rewrite
	case CapabilityJobFit:
		return &s.JobFit
	case CapabilityGuide:
		return &s.Guide
	}
	return nil
}

// HasProfile reports whether a subject profile was fetched, including an empty one.
func (s *ConversationState) HasProfile() bool {
	return s.Profile != nil
}

// HasAnalysis reports whether a successful analysis result is available.
func (s *ConversationState) HasAnalysis() bool {
	return s.Analysis.Completed && s.Analysis.Result != nil
}

// IsFresh reports whether no turn has been completed yet.
func (s *ConversationState) IsFresh() bool {
	return s.TurnCount == 0
}

// LastMessage returns the most recent transcript entry.
func (s *ConversationState) LastMessage() (Message, bool) {
	if len(s.Transcript) == 0 {
		return Message{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// Validate checks the structural invariants of the state.
func (s *ConversationState) Validate() error {
	if s.SessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if s.NeedsPostProcessing && (s.PendingOutput == nil || s.PendingCapability == "") {
		return ErrHandOffInvariant
	}
	for i, m := range s.Transcript {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("transcript entry %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// RecentContext summarises the last n messages as "role: content" with each
// content cut to maxChars runes, joined by "; ".
func (s *ConversationState) RecentContext(n, maxChars int) string {
	if n <= 0 || len(s.Transcript) == 0 {
		return ""
	}
	start := len(s.Transcript) - n
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, n)
	for _, m := range s.Transcript[start:] {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Role, util.PrefixRunes(m.Content, maxChars)))
	}
	return strings.Join(parts, "; ")
}

// Snapshot renders the routing-relevant fields for the decision oracle.
func (s *ConversationState) Snapshot() string {
	snap := map[string]any{
		"linkedin_url":               s.ProfileURL,
		"profile_loaded":             s.HasProfile(),
		"is_profile_analyzed":        s.Analysis.Completed,
		"is_content_rewritten":       s.Rewrite.Completed,
		"is_job_fit_evaluated":       s.JobFit.Completed,
		"is_guidance_provided":       s.Guide.Completed,
		"has_job_description":        s.JobDescription != "",
		"target_role":                s.TargetRole,
		"awaiting_user_confirmation": s.AwaitingConfirmation,
		"awaiting_job_description":   s.AwaitingJobDescription,
		"proposed_next_action":       s.ProposedNextAction,
		"last_agent_called":          s.LastAgentCalled,
		"current_task_status":        s.CurrentTaskStatus,
		"turn_count":                 s.TurnCount,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return "{}"
	}
	return string(b)
}
