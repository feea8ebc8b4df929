package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResilient_PassesThrough(t *testing.T) {
	var gotTemp float64
	next := GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		gotTemp = temperature
		return "echo: " + prompt, nil
	})

	r := NewResilient(next, "test-pass", ResilientOptions{}, zaptest.NewLogger(t))
	out, err := r.Generate(context.Background(), "hi", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
	assert.Equal(t, 0.7, gotTemp)
	assert.True(t, r.Available())
}

func TestResilient_TimeoutIsTyped(t *testing.T) {
	next := GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	r := NewResilient(next, "test-timeout", ResilientOptions{Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	_, err := r.Generate(context.Background(), "slow", 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestResilient_OpensAfterFailures(t *testing.T) {
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_LLM_TIMEOUT", "1h")

	var calls int32
	next := GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("backend exploded")
	})

	r := NewResilient(next, "test-open", ResilientOptions{}, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		_, err := r.Generate(context.Background(), "p", 0.3)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}

	_, err := r.Generate(context.Background(), "p", 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, r.Available())
}

func TestResilient_CancellationDoesNotTrip(t *testing.T) {
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "1")

	next := GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "", context.Canceled
	})
	r := NewResilient(next, "test-cancel", ResilientOptions{}, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		_, err := r.Generate(context.Background(), "p", 0.3)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.True(t, r.Available())
}

func TestResilient_RateLimitHonoursContext(t *testing.T) {
	next := GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "ok", nil
	})
	r := NewResilient(next, "test-rate", ResilientOptions{RateLimit: 0.001, Burst: 1}, zaptest.NewLogger(t))

	_, err := r.Generate(context.Background(), "first", 0.3)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Generate(ctx, "second", 0.3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
