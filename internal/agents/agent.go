// Package agents implements the single-purpose task agents and the router that
// decides, renders and extracts instructions for the orchestrator.
package agents

import (
	"context"
	"errors"
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

// Input names shared by the agents and the orchestrator.
const (
	InputProfile        = "profile"
	InputCurrentContent = "current_content"
	InputAnalysisReport = "profile_analysis_report"
	InputTargetRole     = "target_role"
	InputJobDescription = "job_description"
	InputUserQuery      = "user_query"
)

// TaskAgent wraps one capability over one generator call.
type TaskAgent interface {
	Capability() state.Capability
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Request carries the inputs of one invocation.
type Request struct {
	Inputs       map[string]any
	Instructions *state.Instructions
	Context      string
}

// Result is a verified agent output. Exactly one of Structured and Text is set.
type Result struct {
	Capability state.Capability `json:"capability"`
	Structured map[string]any   `json:"structured,omitempty"`
	Text       string           `json:"text,omitempty"`
	Attempts   int              `json:"attempts"`
	Fallback   bool             `json:"fallback"`
}

// Value returns the payload to store in the capability slot.
func (r *Result) Value() any {
	if r.Structured != nil {
		return r.Structured
	}
	return r.Text
}

// MaxRetriesLimit bounds RetryPolicy.MaxRetries.
const MaxRetriesLimit = 5

// RetryPolicy re-issues a failed request with a compliance directive appended to
// the prompt.
type RetryPolicy struct {
	MaxRetries int
	Directive  string
}

// JSONComplianceDirective is appended to retried prompts that expect JSON.
const JSONComplianceDirective = "IMPORTANT: This is a retry attempt. Please ensure your response is ONLY valid JSON with no extra text, comments, or formatting."

// Attempts returns the total number of calls the policy allows.
func (p RetryPolicy) Attempts() int {
	n := p.MaxRetries
	if n < 0 {
		n = 0
	}
	if n > MaxRetriesLimit {
		n = MaxRetriesLimit
	}
	return n + 1
}

// Prompt returns the prompt for the given 1-based attempt.
func (p RetryPolicy) Prompt(base string, attempt int) string {
	if attempt <= 1 || p.Directive == "" {
		return base
	}
	return base + "\n\n" + p.Directive
}

// outputMode selects how raw generator output is verified.
type outputMode int

const (
	outputObject outputMode = iota
	outputText
)

// definition describes one agent; taskAgent supplies the shared invoke loop.
type definition struct {
	capability     state.Capability
	template       string
	required       []string
	defaults       map[string]any
	mode           outputMode
	requiredFields []string
	temperature    float64
	retry          RetryPolicy
	fallback       func(cause error) map[string]any
	normalize      func(obj map[string]any)
}

type taskAgent struct {
	def    definition
	gen    llm.Generator
	logger *zap.Logger
}

func newTaskAgent(def definition, gen llm.Generator, logger *zap.Logger) *taskAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &taskAgent{def: def, gen: gen, logger: logger.With(zap.String("agent", string(def.capability)))}
}

func (a *taskAgent) Capability() state.Capability { return a.def.capability }

func (a *taskAgent) Invoke(ctx context.Context, req Request) (*Result, error) {
	capability := string(a.def.capability)
	start := time.Now()

	inputs := make(map[string]any, len(req.Inputs)+len(a.def.defaults))
	for k, v := range a.def.defaults {
		inputs[k] = v
	}
	for k, v := range req.Inputs {
		if _, hasDefault := a.def.defaults[k]; hasDefault && emptiness(v) != "" {
			continue
		}
		inputs[k] = v
	}

	if err := ValidateRequired(a.def.capability, inputs, a.def.required...); err != nil {
		metrics.RecordAgentInvocation(capability, "invalid_input", time.Since(start).Seconds(), 0)
		a.logger.Warn("Rejected agent input", zap.Error(err))
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "agent.invoke", attribute.String("agent.capability", capability))
	defer span.End()

	base, err := renderPrompt(a.def.template, promptData{
		Inputs:     inputs,
		Additional: AdditionalContext(req.Instructions, req.Context),
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	attempts := a.def.retry.Attempts()
	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = &GenerationError{Capability: a.def.capability, Attempt: attempt, Cause: ctx.Err()}
			}
			break
		}
		made = attempt
		a.logger.Debug("Agent attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", attempts))

		raw, err := a.gen.Generate(ctx, a.def.retry.Prompt(base, attempt), a.def.temperature)
		if err != nil {
			lastErr = &GenerationError{Capability: a.def.capability, Attempt: attempt, Cause: err}
			a.logger.Warn("Agent generation failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		res, err := a.verify(raw)
		if err != nil {
			lastErr = err
			metrics.ParseFailures.WithLabelValues(capability, string(parser.Classify(err))).Inc()
			a.logger.Warn("Agent output rejected",
				zap.Int("attempt", attempt),
				zap.String("kind", string(parser.Classify(err))),
				zap.Error(err),
			)
			continue
		}

		res.Attempts = attempt
		metrics.RecordAgentInvocation(capability, "success", time.Since(start).Seconds(), attempt-1)
		a.logger.Info("Agent completed", zap.Int("attempts", attempt), zap.Duration("duration", time.Since(start)))
		return res, nil
	}

	retries := made - 1
	if retries < 0 {
		retries = 0
	}
	tracing.RecordError(span, lastErr)

	if a.def.fallback != nil {
		metrics.AgentFallbacks.WithLabelValues(capability).Inc()
		metrics.RecordAgentInvocation(capability, "fallback", time.Since(start).Seconds(), retries)
		a.logger.Error("All agent attempts failed, returning fallback", zap.Int("attempts", made), zap.Error(lastErr))
		return &Result{
			Capability: a.def.capability,
			Structured: a.def.fallback(lastErr),
			Attempts:   made,
			Fallback:   true,
		}, nil
	}

	metrics.RecordAgentInvocation(capability, "error", time.Since(start).Seconds(), retries)
	return nil, lastErr
}

// verify parses raw output according to the agent's output mode.
func (a *taskAgent) verify(raw string) (*Result, error) {
	res := &Result{Capability: a.def.capability}
	switch a.def.mode {
	case outputText:
		text, err := parser.ParseText(raw)
		if err != nil {
			return nil, err
		}
		res.Text = text
	default:
		obj, err := parser.ParseObject(raw)
		if err != nil {
			return nil, err
		}
		if missing := missingFields(obj, a.def.requiredFields); len(missing) > 0 {
			return nil, &parser.ParseError{
				Kind:    parser.KindMalformed,
				Cause:   fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", ")),
				Preview: util.PrefixRunes(raw, 200),
			}
		}
		if a.def.normalize != nil {
			a.def.normalize(obj)
		}
		res.Structured = obj
	}
	return res, nil
}

func missingFields(obj map[string]any, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsRetryable reports whether err came from the generator or the parser rather
// than from input validation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGeneration) || errors.Is(err, parser.ErrParse)
}
