package agents

import (
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

// AnalysisFields are the keys every analysis result carries.
var AnalysisFields = []string{
	"analysis_summary",
	"strengths",
	"improvement_opportunities",
	"keyword_analysis",
	"achievement_assessment",
	"overall_score",
	"priority_actions",
}

const unableToAnalyze = "Unable to analyze - please retry"

// NewAnalyzer returns the profile analysis agent. It retries malformed output and
// returns FallbackAnalysis once retries are exhausted, so it never fails after
// input validation.
func NewAnalyzer(gen llm.Generator, cfg Config, logger *zap.Logger) TaskAgent {
	return newTaskAgent(definition{
		capability:     state.CapabilityAnalyze,
		template:       "analyze.tmpl",
		required:       []string{InputProfile},
		mode:           outputObject,
		requiredFields: AnalysisFields,
		temperature:    cfg.Temperature,
		retry:          RetryPolicy{MaxRetries: cfg.AnalyzerRetries, Directive: JSONComplianceDirective},
		fallback:       FallbackAnalysis,
		normalize:      normalizeScore,
	}, gen, logger)
}

// FallbackAnalysis is the deterministic result returned when no attempt produced
// a usable analysis. Every field in AnalysisFields is populated.
func FallbackAnalysis(cause error) map[string]any {
	notes := "Analysis failed"
	if cause != nil {
		notes = "Analysis failed: " + cause.Error()
	}
	return map[string]any{
		"analysis_summary":          "Analysis failed due to response parsing error. Please try again.",
		"strengths":                 []any{unableToAnalyze},
		"improvement_opportunities": []any{unableToAnalyze},
		"keyword_analysis": map[string]any{
			"current_keywords":      []any{},
			"missing_keywords":      []any{},
			"optimization_strategy": "Analysis failed - please retry",
		},
		"achievement_assessment": map[string]any{
			"quantified_achievements":      0,
			"total_achievements":           0,
			"quantification_opportunities": []any{},
		},
		"overall_score":    0,
		"priority_actions": []any{"Please retry the analysis"},
		"analysis_notes":   notes,
	}
}

// normalizeScore turns textual scores such as "72/100" into numbers.
func normalizeScore(obj map[string]any) {
	switch v := obj["overall_score"].(type) {
	case float64:
		return
	case string:
		if n, ok := util.ParseNumericValue(v); ok {
			obj["overall_score"] = n
			return
		}
	}
	obj["overall_score"] = float64(0)
}
