package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position. The numeric value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// IsOpenError reports whether err was produced by a breaker refusing a call.
func IsOpenError(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config holds circuit breaker configuration
type Config struct {
	MaxRequests      uint32        // probes admitted while half-open
	Interval         time.Duration // closed-state counter reset period; 0 never resets
	Timeout          time.Duration // open period before probing
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // consecutive probe successes that close it

	OnStateChange func(name string, from, to State)

	// Neutral marks errors that are normal outcomes of a healthy dependency
	// (cache misses, empty result sets, caller cancellation). They are returned
	// to the caller but count as successes.
	Neutral func(err error) bool

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts are reset on every state change and, while closed, every Interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Status is a point-in-time view of one breaker.
type Status struct {
	Name    string
	Service string
	State   State
	Counts  Counts
	Since   time.Time
}

// CircuitBreaker guards calls to one dependency. Every breaker registers itself
// with DefaultRegistry so its state shows up in metrics.
type CircuitBreaker struct {
	name    string
	service string
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	state  State
	epoch  uint64
	counts Counts
	since  time.Time
	// deadline is when the current period ends: the counter reset while
	// closed, the probe window while open. Zero means none.
	deadline time.Time
}

// New creates a breaker named name for the dependency class service.
func New(name, service string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	now := cfg.Clock()
	cb := &CircuitBreaker{
		name:    name,
		service: service,
		cfg:     cfg,
		logger:  logger.With(zap.String("breaker", name), zap.String("service", service)),
		state:   StateClosed,
		since:   now,
	}
	cb.resetPeriod(now)
	DefaultRegistry.register(cb)
	return cb
}

// Execute runs fn if the breaker admits it. A context that is already done
// short-circuits without touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	epoch, state, err := cb.admit()
	if err != nil {
		recordRejected(cb, state)
		return zero, err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(epoch, false)
		}
	}()

	out, err := fn()
	ok := err == nil || (cb.cfg.Neutral != nil && cb.cfg.Neutral(err))
	settled = true
	recordOutcome(cb, cb.settle(epoch, ok), ok)
	return out, err
}

// Name returns the breaker name used in logs and metrics
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, applying any elapsed timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(cb.cfg.Clock())
}

// Counts returns the counters of the current period.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.cfg.Clock())
	return cb.counts
}

// Status returns a snapshot for health reporting.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		Name:    cb.name,
		Service: cb.service,
		State:   cb.refresh(cb.cfg.Clock()),
		Counts:  cb.counts,
		Since:   cb.since,
	}
}

func (cb *CircuitBreaker) admit() (uint64, State, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.refresh(cb.cfg.Clock())
	switch {
	case state == StateOpen:
		return cb.epoch, state, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return cb.epoch, state, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.epoch, state, nil
}

// settle records the outcome of a call admitted in epoch and returns the state
// afterwards. Outcomes from an earlier epoch are dropped.
func (cb *CircuitBreaker) settle(epoch uint64, ok bool) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	state := cb.refresh(now)
	if epoch != cb.epoch {
		return state
	}

	c := &cb.counts
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	} else {
		c.TotalFailures++
		c.ConsecutiveFailures++
		c.ConsecutiveSuccesses = 0
		if state == StateHalfOpen || c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
	return cb.state
}

// refresh applies time-based changes. Caller holds mu.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	if cb.deadline.IsZero() || now.Before(cb.deadline) {
		return cb.state
	}
	switch cb.state {
	case StateClosed:
		cb.epoch++
		cb.counts = Counts{}
		cb.resetPeriod(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
	return cb.state
}

// transition moves to a new state and starts a fresh epoch. Caller holds mu.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.since = now
	cb.epoch++
	cb.counts = Counts{}
	cb.resetPeriod(now)

	recordTransition(cb, from, to)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}

	log := cb.logger.Info
	if to == StateOpen {
		log = cb.logger.Warn
	}
	log("Circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) resetPeriod(now time.Time) {
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		} else {
			cb.deadline = time.Time{}
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	default:
		cb.deadline = time.Time{}
	}
}
