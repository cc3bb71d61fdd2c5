package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream unavailable")

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now()
	b := New("openai", Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		ProbeSuccesses:   2,
	}, zaptest.NewLogger(t))
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(ctx context.Context) error { return errUpstream }
func ok(ctx context.Context) error   { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), ErrOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.Error(t, b.Execute(ctx, fail))
	require.NoError(t, b.Execute(ctx, ok))
	require.Error(t, b.Execute(ctx, fail))
	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, Closed, b.State())
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, b.Execute(ctx, fail))
	}
	require.Equal(t, Open, b.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// Two probe successes close the breaker.
	require.NoError(t, b.Execute(ctx, ok))
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestFailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, b.Execute(ctx, fail))
	}
	*now = now.Add(31 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
}
