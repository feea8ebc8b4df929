package state

import (
	"fmt"
	"strings"
	"time"
)

// HandOff moves a freshly produced agent result to the rendering step.
type HandOff struct {
	Output     any
	Capability Capability
}

// ResultWrite stores a verified capability result.
type ResultWrite struct {
	Capability Capability
	Result     any
}

// Update is a sparse patch produced by one orchestrator node. Nil pointers leave
// the corresponding field untouched.
type Update struct {
	Append []Message

	UserInput      *string
	ProfileURL     *string
	Profile        map[string]any
	Result         *ResultWrite
	JobDescription *string
	TargetRole     *string

	Instructions      *Instructions
	ClearInstructions bool

	RoutingAction      *Action
	ProposedNextAction *Action

	HandOff      *HandOff
	ClearHandOff bool

	AwaitingConfirmation   *bool
	AwaitingJobDescription *bool
	UserRequestedUpdate    *bool
	LastAgentCalled        *Capability
	TaskStatus             *string

	ErrorMessage *string
	ClearError   bool

	CompleteTurn bool
}

// Diff lists the fields changed by one Apply call, in application order.
type Diff []string

func (d Diff) String() string { return strings.Join(d, ",") }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Apply is the single transition function for ConversationState. It validates the
// patch, applies it, and returns the list of changed fields. A rejected patch
// leaves s unchanged.
func Apply(s *ConversationState, u Update) (Diff, error) {
	if u.HandOff != nil && (u.HandOff.Output == nil || u.HandOff.Capability == "") {
		return nil, ErrHandOffInvariant
	}
	if u.Result != nil && s.Slot(u.Result.Capability) == nil {
		return nil, fmt.Errorf("unknown capability %q", u.Result.Capability)
	}

	now := time.Now().UTC()
	var diff Diff
	mark := func(field string) { diff = append(diff, field) }

	if u.UserInput != nil && *u.UserInput != s.UserInput {
		s.UserInput = *u.UserInput
		mark("user_input")
	}
	for _, m := range u.Append {
		if AppendMessage(s, m) {
			mark("transcript")
		}
	}
	if u.ProfileURL != nil && *u.ProfileURL != s.ProfileURL {
		s.ProfileURL = *u.ProfileURL
		mark("profile_url")
	}
	if u.Profile != nil {
		s.Profile = u.Profile
		mark("profile")
	}
	if u.JobDescription != nil && *u.JobDescription != s.JobDescription {
		s.JobDescription = *u.JobDescription
		mark("job_description")
	}
	if u.TargetRole != nil && *u.TargetRole != s.TargetRole {
		s.TargetRole = *u.TargetRole
		mark("target_role")
	}

	if u.ClearInstructions && s.PendingInstructions != nil {
		s.PendingInstructions = nil
		mark("pending_instructions")
	}
	if u.Instructions != nil {
		s.PendingInstructions = u.Instructions
		mark("pending_instructions")
	}

	if u.RoutingAction != nil && *u.RoutingAction != s.RoutingAction {
		s.RoutingAction = *u.RoutingAction
		mark("routing_action")
	}
	if u.ProposedNextAction != nil && *u.ProposedNextAction != s.ProposedNextAction {
		s.ProposedNextAction = *u.ProposedNextAction
		mark("proposed_next_action")
	}

	if u.Result != nil {
		slot := s.Slot(u.Result.Capability)
		slot.Result = u.Result.Result
		slot.Completed = true
		slot.UpdatedAt = now
		mark(string(u.Result.Capability))
		if s.ErrorMessage != "" && u.ErrorMessage == nil {
			s.ErrorMessage = ""
			mark("error_message")
		}
	}

	if u.ClearHandOff && (s.NeedsPostProcessing || s.PendingOutput != nil) {
		s.PendingOutput = nil
		s.PendingCapability = ""
		s.NeedsPostProcessing = false
		mark("hand_off")
	}
	if u.HandOff != nil {
		s.PendingOutput = u.HandOff.Output
		s.PendingCapability = u.HandOff.Capability
		s.NeedsPostProcessing = true
		mark("hand_off")
	}

	setBool := func(dst *bool, v *bool, field string) {
		if v != nil && *v != *dst {
			*dst = *v
			mark(field)
		}
	}
	setBool(&s.AwaitingConfirmation, u.AwaitingConfirmation, "awaiting_confirmation")
	setBool(&s.AwaitingJobDescription, u.AwaitingJobDescription, "awaiting_job_description")
	setBool(&s.UserRequestedUpdate, u.UserRequestedUpdate, "user_requested_update")

	if u.LastAgentCalled != nil && *u.LastAgentCalled != s.LastAgentCalled {
		s.LastAgentCalled = *u.LastAgentCalled
		mark("last_agent_called")
	}
	if u.TaskStatus != nil && *u.TaskStatus != s.CurrentTaskStatus {
		s.CurrentTaskStatus = *u.TaskStatus
		mark("current_task_status")
	}

	if u.ClearError && s.ErrorMessage != "" {
		s.ErrorMessage = ""
		mark("error_message")
	}
	if u.ErrorMessage != nil && *u.ErrorMessage != s.ErrorMessage {
		s.ErrorMessage = *u.ErrorMessage
		mark("error_message")
	}

	if u.CompleteTurn {
		s.TurnCount++
		mark("turn_count")
	}

	if len(diff) > 0 {
		s.UpdatedAt = now
	}
	return diff, nil
}

// AppendMessage appends m to the transcript unless it repeats the immediately
// preceding entry. It reports whether the transcript grew.
func AppendMessage(s *ConversationState, m Message) bool {
	if last, ok := s.LastMessage(); ok && last.Role == m.Role && last.Content == m.Content {
		return false
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.Transcript = append(s.Transcript, m)
	return true
}
