package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock is advanced by hand so state timeouts need no sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBackend = errors.New("backend down")

func newTestBreaker(t *testing.T, clock *fakeClock, mutate func(*Config)) *CircuitBreaker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 2
	cfg.Timeout = 10 * time.Second
	cfg.Interval = time.Minute
	cfg.Clock = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	return New(t.Name(), "test", cfg, zaptest.NewLogger(t))
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, nil)
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)

	clock.Advance(9 * time.Second)
	assert.Equal(t, StateOpen, cb.State(), "still inside the open timeout")

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is below the threshold")
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAdmitsMaxRequests(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, func(c *Config) { c.SuccessThreshold = 5 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, IsOpenError(err))
}

func TestCircuitBreaker_ClosedCountsResetEachInterval(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, uint32(2), cb.Counts().ConsecutiveFailures)

	clock.Advance(61 * time.Second)
	assert.Equal(t, Counts{}, cb.Counts())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State(), "failures before the reset no longer count")
}

func TestCircuitBreaker_Counts(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock(), nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)

	c := cb.Counts()
	assert.Equal(t, uint32(3), c.Requests)
	assert.Equal(t, uint32(2), c.TotalSuccesses)
	assert.Equal(t, uint32(1), c.TotalFailures)
	assert.Equal(t, uint32(0), c.ConsecutiveFailures)
	assert.Equal(t, uint32(1), c.ConsecutiveSuccesses)
}

func TestCircuitBreaker_NeutralErrorsCountAsSuccess(t *testing.T) {
	errMiss := errors.New("cache miss")
	cb := newTestBreaker(t, newFakeClock(), func(c *Config) {
		c.Neutral = func(err error) bool { return errors.Is(err, errMiss) }
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return errMiss }), errMiss)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(10), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_CanceledContextShortCircuits(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock(), func(c *Config) { c.FailureThreshold = 1 })

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCall_ReturnsValue(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock(), nil)

	out, err := Call(context.Background(), cb, func() (string, error) { return "analysis", nil })
	require.NoError(t, err)
	assert.Equal(t, "analysis", out)

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), cb, func() (int, error) { return 0, errBackend })
	}
	out, err = Call(context.Background(), cb, func() (string, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Empty(t, out)
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := newTestBreaker(t, clock, func(c *Config) {
		c.FailureThreshold = 1
		c.SuccessThreshold = 1
		c.OnStateChange = func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(11 * time.Second)
	_ = cb.Execute(ctx, succeed)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_Status(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, func(c *Config) { c.FailureThreshold = 1 })

	clock.Advance(time.Second)
	_ = cb.Execute(context.Background(), fail)

	st := cb.Status()
	assert.Equal(t, t.Name(), st.Name)
	assert.Equal(t, "test", st.Service)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, clock.Now(), st.Since)
}

func TestRegistry_Statuses(t *testing.T) {
	reg := &Registry{breakers: make(map[string]*CircuitBreaker)}
	cfg := DefaultConfig()
	a := New("b", "svc-2", cfg, nil)
	b := New("a", "svc-2", cfg, nil)
	c := New("z", "svc-1", cfg, nil)
	for _, cb := range []*CircuitBreaker{a, b, c} {
		reg.register(cb)
	}
	reg.register(New("z", "svc-1", cfg, nil))

	statuses := reg.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "svc-1/z", statuses[0].Service+"/"+statuses[0].Name)
	assert.Equal(t, "svc-2/a", statuses[1].Service+"/"+statuses[1].Name)
	assert.Equal(t, "svc-2/b", statuses[2].Service+"/"+statuses[2].Name)
}

func TestConfigFor(t *testing.T) {
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_LLM_TIMEOUT", "45s")
	t.Setenv("CB_LLM_INTERVAL", "not-a-duration")

	cfg := ConfigFor(ServiceGenerator)
	assert.Equal(t, uint32(9), cfg.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Interval, "invalid values fall back to the default")
	assert.Equal(t, uint32(2), cfg.MaxRequests)

	t.Setenv("CB_PROFILE_FEED_MAX_REQUESTS", "7")
	custom := ConfigFor("profile-feed")
	assert.Equal(t, uint32(7), custom.MaxRequests)
	assert.Equal(t, DefaultConfig().FailureThreshold, custom.FailureThreshold)
}
