package agents

import (
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

// Config tunes the agents.
type Config struct {
	Temperature       float64 `mapstructure:"temperature"`
	RouterTemperature float64 `mapstructure:"router_temperature"`
	AnalyzerRetries   int     `mapstructure:"analyzer_retries"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:       0.7,
		RouterTemperature: 0.2,
		AnalyzerRetries:   2,
	}
}

// NewRewriter returns the content rewriting agent.
func NewRewriter(gen llm.Generator, cfg Config, logger *zap.Logger) TaskAgent {
	return newTaskAgent(definition{
		capability:  state.CapabilityRewrite,
		template:    "rewrite.tmpl",
		required:    []string{InputCurrentContent, InputAnalysisReport},
		defaults:    map[string]any{InputTargetRole: "the same role"},
		mode:        outputObject,
		temperature: cfg.Temperature,
	}, gen, logger)
}

// NewEvaluator returns the job fit agent. Its result is markdown text.
func NewEvaluator(gen llm.Generator, cfg Config, logger *zap.Logger) TaskAgent {
	return newTaskAgent(definition{
		capability:  state.CapabilityJobFit,
		template:    "job_fit.tmpl",
		required:    []string{InputAnalysisReport, InputJobDescription},
		mode:        outputText,
		temperature: cfg.Temperature,
	}, gen, logger)
}

// NewGuide returns the career guidance agent. Its result is markdown text.
func NewGuide(gen llm.Generator, cfg Config, logger *zap.Logger) TaskAgent {
	return newTaskAgent(definition{
		capability:  state.CapabilityGuide,
		template:    "guide.tmpl",
		required:    []string{InputUserQuery, InputAnalysisReport, InputTargetRole},
		defaults:    map[string]any{InputTargetRole: "your desired role"},
		mode:        outputText,
		temperature: cfg.Temperature,
	}, gen, logger)
}

// NewSet builds one agent per capability over a shared generator.
func NewSet(gen llm.Generator, cfg Config, logger *zap.Logger) map[state.Capability]TaskAgent {
	return map[state.Capability]TaskAgent{
		state.CapabilityAnalyze: NewAnalyzer(gen, cfg, logger),
		state.CapabilityRewrite: NewRewriter(gen, cfg, logger),
		state.CapabilityJobFit:  NewEvaluator(gen, cfg, logger),
		state.CapabilityGuide:   NewGuide(gen, cfg, logger),
	}
}
