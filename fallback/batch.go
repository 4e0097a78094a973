package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/nx-intelligence/xronox/store"
)

// CounterFlusher applies a batch of accumulated counter deltas in one
// call, keyed by whatever scope string the caller chose (spec §4.8's
// `(dbName, collection, tenantId?)` scope key, flattened to a string).
type CounterFlusher func(ctx context.Context, deltas map[string]int64) error

// pendingPut is the last-write-wins value queued for one object key.
type pendingPut struct {
	bucket string
	key    string
	obj    any
}

// BatchOptimizer coalesces object-store puts to the same key occurring
// within a configurable window into a single write, and debounces
// counter updates so N operations in the window produce one flush
// (spec §4.7 "BatchOptimizer (optional)").
type BatchOptimizer struct {
	objs    store.ObjectStore
	window  time.Duration
	flush   CounterFlusher

	mu      sync.Mutex
	puts    map[string]pendingPut
	deltas  map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchOptimizer builds a BatchOptimizer. flush may be nil if the
// caller doesn't want counter debouncing (only put coalescing is used).
func NewBatchOptimizer(objs store.ObjectStore, window time.Duration, flush CounterFlusher) *BatchOptimizer {
	return &BatchOptimizer{
		objs:   objs,
		window: window,
		flush:  flush,
		puts:   make(map[string]pendingPut),
		deltas: make(map[string]int64),
	}
}

// Start begins the periodic flush loop.
func (b *BatchOptimizer) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.loop()
}

// Stop flushes any remaining pending work and stops the loop.
func (b *BatchOptimizer) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.flushNow(context.Background())
}

func (b *BatchOptimizer) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.flushNow(b.ctx)
		}
	}
}

// EnqueuePut coalesces a JSON put to (bucket, key): if another put to
// the same key is already pending within this window, the new value
// replaces it rather than issuing a second write.
func (b *BatchOptimizer) EnqueuePut(bucket, key string, obj any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts[bucket+"/"+key] = pendingPut{bucket: bucket, key: key, obj: obj}
}

// EnqueueCounterDelta accumulates a counter delta under scopeKey for the
// next flush.
func (b *BatchOptimizer) EnqueueCounterDelta(scopeKey string, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deltas[scopeKey] += delta
}

func (b *BatchOptimizer) flushNow(ctx context.Context) {
	b.mu.Lock()
	puts := b.puts
	deltas := b.deltas
	b.puts = make(map[string]pendingPut)
	b.deltas = make(map[string]int64)
	b.mu.Unlock()

	for _, p := range puts {
		if _, _, err := b.objs.PutJSON(ctx, p.bucket, p.key, p.obj); err != nil {
			log.WithError(err).WithField("bucket", p.bucket).WithField("key", p.key).Warn("batched put failed")
		}
	}

	if len(deltas) == 0 || b.flush == nil {
		return
	}
	if err := b.flush(ctx, deltas); err != nil {
		log.WithError(err).Warn("batched counter flush failed")
	}
}
