package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shre-db/linked-squad/go/assistant/internal/circuitbreaker"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
)

// ResilientOptions configures the Resilient decorator.
type ResilientOptions struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Resilient decorates a Generator with a per-call timeout, a client-side rate
// limit and a circuit breaker. Caller cancellation does not count against the
// breaker; timeouts do.
type Resilient struct {
	next     Generator
	provider string
	cb       *circuitbreaker.CircuitBreaker
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewResilient wraps next. provider labels metrics and the breaker.
func NewResilient(next Generator, provider string, opts ResilientOptions, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := circuitbreaker.ConfigFor(circuitbreaker.ServiceGenerator)
	cfg.Neutral = func(err error) bool { return errors.Is(err, context.Canceled) }
	cb := circuitbreaker.New(provider, circuitbreaker.ServiceGenerator, cfg, logger)

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Resilient{
		next:     next,
		provider: provider,
		cb:       cb,
		limiter:  limiter,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

// Generate implements Generator.
func (r *Resilient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.generate",
		attribute.String("llm.provider", r.provider),
		attribute.Int("llm.prompt_length", len(prompt)),
	)
	defer span.End()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			tracing.RecordError(span, err)
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := circuitbreaker.Call(callCtx, r.cb, func() (string, error) {
		out, err := r.next.Generate(callCtx, prompt, temperature)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s: %v", ErrTimeout, r.timeout, err)
		}
		return out, err
	})

	status := "success"
	switch {
	case err == nil:
	case circuitbreaker.IsOpenError(err):
		status = "unavailable"
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	default:
		status = "error"
	}

	metrics.RecordGeneration(r.provider, status, time.Since(start).Seconds())

	if err != nil {
		tracing.RecordError(span, err)
		r.logger.Warn("Generator call failed",
			zap.String("provider", r.provider),
			zap.String("status", status),
			zap.Error(err),
		)
		return "", err
	}
	return out, nil
}

// Available reports whether the breaker currently accepts calls.
func (r *Resilient) Available() bool {
	return r.cb.State() != circuitbreaker.StateOpen
}
