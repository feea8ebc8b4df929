package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/parser"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

const (
	fallbackConfidence       = 0.3
	decodeFallbackConfidence = 0.5
)

// instructionKeywords trigger the local extraction used when the generator is
// unavailable.
var instructionKeywords = []string{
	"make it", "focus on", "emphasize", "highlight", "shorter", "longer",
	"concise", "detailed", "technical", "creative", "professional",
	"specific to", "tailor for", "customize", "adapt", "modify",
}

// Decision is a validated routing decision. Pointer fields are nil when the oracle
// did not set them.
type Decision struct {
	Action      state.Action
	RawAction   string
	KnownAction bool
	BotResponse string

	ProfileURL             string
	JobDescription         string
	TargetRole             string
	IsProfileAnalyzed      *bool
	AwaitingConfirmation   *bool
	AwaitingJobDescription *bool
	UserRequestedUpdate    *bool
	ProposedNextAction     *state.Action
	// LastAgentCalled points at "" when the oracle explicitly reported no agent.
	LastAgentCalled         *state.Capability
	HasSpecificInstructions bool
}

// Router is the decision oracle, instruction extractor and output renderer.
type Router struct {
	gen         llm.Generator
	temperature float64
	logger      *zap.Logger
}

// NewRouter creates a Router over gen.
func NewRouter(gen llm.Generator, cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{gen: gen, temperature: cfg.RouterTemperature, logger: logger.With(zap.String("component", "router"))}
}

// Decide asks the oracle for the next action. The returned action is always a
// member of the closed set; KnownAction is false when a substitution happened.
func (r *Router) Decide(ctx context.Context, snapshot, transcript, input string) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "router.decide")
	defer span.End()

	prompt, err := renderPrompt("route.tmpl", struct {
		Snapshot, Transcript, Input string
	}{snapshot, transcript, input})
	if err != nil {
		return nil, err
	}

	raw, err := r.gen.Generate(ctx, prompt, r.temperature)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, &GenerationError{Capability: "router", Attempt: 1, Cause: err}
	}

	obj, err := parser.ParseObject(raw)
	if err != nil {
		metrics.ParseFailures.WithLabelValues("router", string(parser.Classify(err))).Inc()
		tracing.RecordError(span, err)
		return nil, err
	}

	d := decodeDecision(obj)
	span.SetAttributes(
		attribute.String("router.action", string(d.Action)),
		attribute.Bool("router.known_action", d.KnownAction),
	)
	return d, nil
}

func decodeDecision(obj map[string]any) *Decision {
	d := &Decision{
		RawAction:               stringField(obj, "current_router_action"),
		BotResponse:             stringField(obj, "current_bot_response"),
		ProfileURL:              stringField(obj, "linkedin_url"),
		JobDescription:          stringField(obj, "job_description"),
		TargetRole:              stringField(obj, "target_role"),
		IsProfileAnalyzed:       boolField(obj, "is_profile_analyzed"),
		AwaitingConfirmation:    boolField(obj, "awaiting_user_confirmation"),
		AwaitingJobDescription:  boolField(obj, "awaiting_job_description"),
		UserRequestedUpdate:     boolField(obj, "user_requested_update"),
		HasSpecificInstructions: derefBool(boolField(obj, "has_specific_instructions")),
	}
	d.Action, d.KnownAction = state.ParseAction(d.RawAction)

	if raw := stringField(obj, "proposed_next_action"); raw != "" {
		if a, ok := state.ParseAction(raw); ok {
			d.ProposedNextAction = &a
		}
	}
	if v, present := obj["last_agent_called"]; present {
		raw := ""
		if s, ok := v.(string); ok {
			raw = s
		}
		if c, ok := state.ParseCapability(raw); ok {
			d.LastAgentCalled = &c
		} else if v == nil || strings.EqualFold(strings.TrimSpace(raw), "null") {
			none := state.Capability("")
			d.LastAgentCalled = &none
		}
	}
	return d
}

// ExtractInstructions pulls user preferences out of input. It returns nil when
// the input carries none. Generator failures fall back to keyword matching.
func (r *Router) ExtractInstructions(ctx context.Context, input, conversation, task string) *state.Instructions {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	if task == "" {
		task = "general"
	}
	if conversation == "" {
		conversation = "No prior conversation"
	}

	prompt, err := renderPrompt("instructions.tmpl", struct {
		Task, Context, Input string
	}{task, conversation, input})
	if err != nil {
		r.logger.Warn("Instruction prompt failed", zap.Error(err))
		return KeywordInstructions(input)
	}

	raw, err := r.gen.Generate(ctx, prompt, r.temperature)
	if err != nil {
		r.logger.Warn("Instruction extraction failed, using keyword fallback", zap.Error(err))
		return KeywordInstructions(input)
	}

	obj, err := parser.ParseObject(raw)
	if err != nil {
		lower := strings.ToLower(raw)
		if strings.Contains(lower, "has_specific_instructions") && strings.Contains(lower, "true") {
			return &state.Instructions{
				HasSpecificInstructions: true,
				Summary:                 "User instructions detected: " + util.PrefixRunes(input, 100) + "...",
				ConfidenceScore:         decodeFallbackConfidence,
			}
		}
		return nil
	}
	return instructionsFromObject(obj)
}

func instructionsFromObject(obj map[string]any) *state.Instructions {
	if !derefBool(boolField(obj, "has_specific_instructions")) {
		return nil
	}
	in := &state.Instructions{
		HasSpecificInstructions: true,
		StylePreferences:        listField(obj, "style_preferences"),
		ContentFocus:            listField(obj, "content_focus"),
		ToneAdjustments:         listField(obj, "tone_adjustments"),
		Exclusions:              listField(obj, "exclusions"),
		TargetAudience:          stringField(obj, "target_audience"),
		CustomizationContext:    stringField(obj, "customization_context"),
	}
	if length := stringField(obj, "length_requirements"); !strings.EqualFold(length, "standard") {
		in.LengthRequirements = length
	}
	switch v := obj["confidence_score"].(type) {
	case float64:
		in.ConfidenceScore = v
	case string:
		in.ConfidenceScore, _ = util.ParseNumericValue(v)
	}

	in.Summary = in.Summarize()
	if in.Summary == "" {
		return nil
	}
	return in
}

// KeywordInstructions is the local extraction used when the generator cannot be
// reached. Each matched keyword contributes a short snippet of the input.
func KeywordInstructions(input string) *state.Instructions {
	lower := strings.ToLower(input)
	source := input
	if len(lower) != len(input) {
		source = lower
	}

	var snippets []string
	for _, kw := range instructionKeywords {
		start := strings.Index(lower, kw)
		if start < 0 {
			continue
		}
		end := start + 50
		if end > len(source) {
			end = len(source)
		}
		snippets = append(snippets, strings.TrimSpace(strings.ToValidUTF8(source[start:end], "")))
	}
	if len(snippets) == 0 {
		return nil
	}
	summary := strings.Join(snippets, "; ")
	return &state.Instructions{
		HasSpecificInstructions: true,
		CustomizationContext:    summary,
		Summary:                 summary,
		ConfidenceScore:         fallbackConfidence,
	}
}

// RenderOutput turns a raw agent result into a conversational reply.
func (r *Router) RenderOutput(ctx context.Context, c state.Capability, output any, conversation string, instr *state.Instructions) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "router.render", attribute.String("agent.capability", string(c)))
	defer span.End()
	start := time.Now()

	prompt, err := renderPrompt("render.tmpl", struct {
		Capability   state.Capability
		Output       string
		Context      string
		Instructions string
	}{c, formatOutput(output), conversation, instructionText(instr)})
	if err != nil {
		return "", err
	}

	raw, err := r.gen.Generate(ctx, prompt, r.temperature)
	if err != nil {
		tracing.RecordError(span, err)
		return "", &GenerationError{Capability: c, Attempt: 1, Cause: err}
	}
	reply, err := parser.ParseText(raw)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	r.logger.Debug("Rendered agent output",
		zap.String("capability", string(c)),
		zap.Duration("duration", time.Since(start)),
	)
	return reply, nil
}

var displayNames = map[state.Capability]string{
	state.CapabilityAnalyze: "profile",
	state.CapabilityRewrite: "content rewrite",
	state.CapabilityJobFit:  "job fit",
	state.CapabilityGuide:   "career guidance",
}

// FallbackReply is used when rendering fails.
func FallbackReply(c state.Capability) string {
	name, ok := displayNames[c]
	if !ok {
		name = strings.ReplaceAll(string(c), "_", " ")
	}
	return fmt.Sprintf("I've completed the %s analysis. The detailed results are available, and I'm ready to help you with next steps. What would you like to explore further?", name)
}

func formatOutput(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func stringField(obj map[string]any, key string) string {
	s, ok := obj[key].(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func boolField(obj map[string]any, key string) *bool {
	switch v := obj[key].(type) {
	case bool:
		return &v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			b := true
			return &b
		case "false", "no":
			b := false
			return &b
		}
	}
	return nil
}

func derefBool(b *bool) bool { return b != nil && *b }

func listField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
