package state

import (
	"errors"
	"strings"
	"time"
)

// ErrUnknownAction describes an oracle tag outside the closed action set. It is
// logged and never returned to callers.
var ErrUnknownAction = errors.New("unknown routing action")

// Action is a routing decision tag. The set is closed; ParseAction is the only
// way to turn untrusted text into an Action.
type Action string

const (
	ActionInitialWelcome      Action = "INITIAL_WELCOME"
	ActionAwaitURL            Action = "AWAIT_URL"
	ActionCallAnalyze         Action = "CALL_ANALYZE"
	ActionCallRewrite         Action = "CALL_REWRITE"
	ActionCallJobFit          Action = "CALL_JOB_FIT"
	ActionCallGuide           Action = "CALL_GUIDE"
	ActionRequestMissingInput Action = "REQUEST_MISSING_INPUT"
	ActionProcessOutput       Action = "PROCESS_OUTPUT"
	ActionRespondDirectly     Action = "RESPOND_DIRECTLY"
	ActionAwaitConfirmation   Action = "AWAIT_CONFIRMATION"
	ActionInvalidInput        Action = "INVALID_INPUT"
)

// Actions lists every valid routing action.
var Actions = []Action{
	ActionInitialWelcome,
	ActionAwaitURL,
	ActionCallAnalyze,
	ActionCallRewrite,
	ActionCallJobFit,
	ActionCallGuide,
	ActionRequestMissingInput,
	ActionProcessOutput,
	ActionRespondDirectly,
	ActionAwaitConfirmation,
	ActionInvalidInput,
}

// legacy tags still produced by older routing prompts
var actionAliases = map[string]Action{
	"PROCESS_AGENT_OUTPUT":    ActionProcessOutput,
	"REQUEST_JOB_DESCRIPTION": ActionRequestMissingInput,
}

// ParseAction validates raw against the closed action set. Unknown values map to
// ActionRespondDirectly with ok=false.
func ParseAction(raw string) (Action, bool) {
	tag := strings.ToUpper(strings.TrimSpace(raw))
	for _, a := range Actions {
		if string(a) == tag {
			return a, true
		}
	}
	if a, ok := actionAliases[tag]; ok {
		return a, true
	}
	return ActionRespondDirectly, false
}

// Capability returns the capability dispatched by a CALL_* action.
func (a Action) Capability() (Capability, bool) {
	switch a {
	case ActionCallAnalyze:
		return CapabilityAnalyze, true
	case ActionCallRewrite:
		return CapabilityRewrite, true
	case ActionCallJobFit:
		return CapabilityJobFit, true
	case ActionCallGuide:
		return CapabilityGuide, true
	}
	return "", false
}

// IsDispatch reports whether the action invokes a task agent.
func (a Action) IsDispatch() bool {
	_, ok := a.Capability()
	return ok
}

// Capability identifies one of the four task agents and its result slot.
type Capability string

const (
	CapabilityAnalyze Capability = "analyze"
	CapabilityRewrite Capability = "rewrite"
	CapabilityJobFit  Capability = "job_fit"
	CapabilityGuide   Capability = "guide"
)

// Capabilities lists every capability in dispatch order.
var Capabilities = []Capability{CapabilityAnalyze, CapabilityRewrite, CapabilityJobFit, CapabilityGuide}

// ParseCapability accepts a capability name as reported by the oracle.
func ParseCapability(raw string) (Capability, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range Capabilities {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Action returns the CALL_* action that dispatches c.
func (c Capability) Action() Action {
	switch c {
	case CapabilityAnalyze:
		return ActionCallAnalyze
	case CapabilityRewrite:
		return ActionCallRewrite
	case CapabilityJobFit:
		return ActionCallJobFit
	case CapabilityGuide:
		return ActionCallGuide
	}
	return ActionRespondDirectly
}

// Role of a transcript entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Slot holds the latest result of one capability.
type Slot struct {
	Result    any       `json:"result,omitempty"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Instructions are user preferences extracted from free text and attached to the
// next agent dispatch.
type Instructions struct {
	HasSpecificInstructions bool    `json:"has_specific_instructions"`
	StylePreferences        string  `json:"style_preferences,omitempty"`
	ContentFocus            string  `json:"content_focus,omitempty"`
	ToneAdjustments         string  `json:"tone_adjustments,omitempty"`
	LengthRequirements      string  `json:"length_requirements,omitempty"`
	Exclusions              string  `json:"exclusions,omitempty"`
	TargetAudience          string  `json:"target_audience,omitempty"`
	CustomizationContext    string  `json:"customization_context,omitempty"`
	ConfidenceScore         float64 `json:"confidence_score"`
	Summary                 string  `json:"instruction_summary,omitempty"`
}

// Summarize renders the non-empty preferences as a single line.
func (i *Instructions) Summarize() string {
	if i == nil {
		return ""
	}
	parts := make([]string, 0, 7)
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Style", i.StylePreferences)
	add("Focus on", i.ContentFocus)
	add("Tone", i.ToneAdjustments)
	add("Length", i.LengthRequirements)
	add("Avoid", i.Exclusions)
	add("Target", i.TargetAudience)
	add("Context", i.CustomizationContext)
	return strings.Join(parts, "; ")
}

// Empty reports whether the instructions carry nothing worth forwarding.
func (i *Instructions) Empty() bool {
	if i == nil {
		return true
	}
	return !i.HasSpecificInstructions && i.Summary == "" && i.Summarize() == ""
}
