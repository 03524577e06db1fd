package stack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterIsolatesHosts(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(1, 1)
	ctx := context.Background()

	// Each host gets its own burst token, so distinct hosts never
	// contend with each other.
	require.NoError(t, l.wait(ctx, "http://a.example/page"))
	require.NoError(t, l.wait(ctx, "http://b.example/page"))
	require.NoError(t, l.wait(ctx, "http://c.example/other"))
	assert.Len(t, l.limiters, 3)

	// A second request against a drained bucket has to wait.
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.wait(shortCtx, "http://a.example/second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.example")
}

func TestHostLimiterCaseAndFallback(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0, 1)
	ctx := context.Background()

	require.NoError(t, l.wait(ctx, "http://Example.COM/x"))
	require.NoError(t, l.wait(ctx, "http://example.com/y"))
	require.NoError(t, l.wait(ctx, "::not a url::"))

	assert.Len(t, l.limiters, 2)
	assert.Contains(t, l.limiters, "example.com")
	assert.Contains(t, l.limiters, "unknown")
}

func TestHostLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0, 0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.wait(ctx, "http://fast.example/"))
	}
}
