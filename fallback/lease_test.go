package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeaseCoordinator(t *testing.T) *LeaseCoordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLeaseCoordinator(client)
}

func TestLeaseCoordinator_AcquireExcludesSecondWorker(t *testing.T) {
	lc := newTestLeaseCoordinator(t)
	ctx := context.Background()

	owner1, ok1, err := lc.Acquire(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.NotEmpty(t, owner1)

	_, ok2, err := lc.Acquire(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestLeaseCoordinator_ReleaseAllowsReacquire(t *testing.T) {
	lc := newTestLeaseCoordinator(t)
	ctx := context.Background()

	owner, ok, err := lc.Acquire(ctx, "req-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lc.Release(ctx, "req-2", owner))

	_, ok2, err := lc.Acquire(ctx, "req-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok2)
}

func TestLeaseCoordinator_ReleaseWithWrongOwnerIsNoop(t *testing.T) {
	lc := newTestLeaseCoordinator(t)
	ctx := context.Background()

	_, ok, err := lc.Acquire(ctx, "req-3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lc.Release(ctx, "req-3", "not-the-real-owner"))

	_, ok2, err := lc.Acquire(ctx, "req-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2, "lease should still be held since release used the wrong owner token")
}
