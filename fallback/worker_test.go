package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/store/storetest"
)

type fakeExecutor struct {
	mu       sync.Mutex
	attempts map[string]int
	failUntil int
}

func (f *fakeExecutor) Execute(ctx context.Context, op FallbackOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[op.RequestID]++
	if f.attempts[op.RequestID] <= f.failUntil {
		return errors.New("simulated transient failure")
	}
	return nil
}

func testWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.DrainTimeout = time.Second
	return cfg
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	q := NewQueue(docs)
	ctx := context.Background()

	reqID, err := q.Enqueue(ctx, FallbackOp{OpKind: "UPDATE", Context: OpContext{Collection: "orders"}})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	lease := NewLeaseCoordinator(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	exec := &fakeExecutor{attempts: make(map[string]int), failUntil: 2}

	w := NewWorker(q, lease, exec, testWorkerConfig(), nil)
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.attempts[reqID] >= 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		ops, err := q.LeaseBatch(ctx, 10)
		return err == nil && len(ops) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	q := NewQueue(docs)
	ctx := context.Background()

	reqID, err := q.Enqueue(ctx, FallbackOp{OpKind: "UPDATE"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	lease := NewLeaseCoordinator(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	exec := &fakeExecutor{attempts: make(map[string]int), failUntil: 1000}

	cfg := testWorkerConfig()
	cfg.MaxAttempts = 2
	w := NewWorker(q, lease, exec, cfg, nil)
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		dead, err := docs.FindHead(ctx, CollectionDeadLetter, reqID)
		return err == nil && dead != nil
	}, 2*time.Second, 10*time.Millisecond)
}
