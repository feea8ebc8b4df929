// Package llm provides the text-generation backends used by the task agents and
// the routing oracle.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned while the backend circuit breaker refuses calls.
	ErrUnavailable = errors.New("generator unavailable")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("generator call timed out")
)

// Generator produces text for a prompt. Implementations must be safe for
// concurrent use. Output is neither deterministic nor guaranteed to follow the
// requested format.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// Options selects and configures a backend.
type Options struct {
	Provider  string        `mapstructure:"provider"` // "http" (LLM service) or "anthropic"
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	AgentID   string        `mapstructure:"agent_id"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst     int           `mapstructure:"burst"`
}

// New builds the configured backend wrapped with breaker, rate limiting and
// timeout handling.
func New(opts Options, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		base     Generator
		provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	)
	switch provider {
	case "", "http", "llm-service":
		provider = "llm-service"
		base = NewHTTPClient(opts, logger)
	case "anthropic":
		client, err := NewAnthropicClient(opts)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}

	logger.Info("Generator configured",
		zap.String("provider", provider),
		zap.String("model", opts.Model),
		zap.Duration("timeout", opts.Timeout),
		zap.Float64("rate_limit", opts.RateLimit),
	)

	return NewResilient(base, provider, ResilientOptions{
		Timeout:   opts.Timeout,
		RateLimit: opts.RateLimit,
		Burst:     opts.Burst,
	}, logger), nil
}
