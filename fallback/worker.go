package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nx-intelligence/xronox/common"
)

var log = common.NewLogger("fallback")

// Executor re-runs one fallback op's underlying write (the same saga
// invocation that originally enqueued it). Idempotent re-execution is
// the executor's responsibility: it must resolve op.Context back to a
// route and replay against the item's current head/ov.
type Executor interface {
	Execute(ctx context.Context, op FallbackOp) error
}

// WorkerConfig configures the poll loop.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	LeaseTTL     time.Duration
	DrainTimeout time.Duration
}

// DefaultWorkerConfig matches spec §4.7's stated defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		MaxAttempts:  10,
		BaseDelay:    1 * time.Second,
		MaxDelay:     5 * time.Minute,
		LeaseTTL:     30 * time.Second,
		DrainTimeout: 10 * time.Second,
	}
}

// Worker polls the Queue on an interval, leases a batch, and replays
// each op through Executor, following spec §4.7's tick algorithm.
type Worker struct {
	queue    *Queue
	lease    *LeaseCoordinator
	exec     Executor
	cfg      WorkerConfig
	counters Counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Counters is the subset of analytics the worker touches on
// completion/failure; callers not wiring analytics can pass a no-op
// implementation.
type Counters interface {
	RecordFallbackOutcome(ctx context.Context, collection string, succeeded bool)
}

type noopCounters struct{}

func (noopCounters) RecordFallbackOutcome(context.Context, string, bool) {}

// NewWorker builds a Worker. counters may be nil, in which case outcomes
// are not recorded.
func NewWorker(queue *Queue, lease *LeaseCoordinator, exec Executor, cfg WorkerConfig, counters Counters) *Worker {
	if counters == nil {
		counters = noopCounters{}
	}
	return &Worker{queue: queue, lease: lease, exec: exec, cfg: cfg, counters: counters}
}

// Start begins the poll loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels the poll loop and waits for in-flight leases to drain, up
// to cfg.DrainTimeout, then returns. In-flight ops that don't finish in
// time keep their lease until it expires naturally on Redis's side.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.DrainTimeout):
		log.Warn("fallback worker drain timed out, leases will expire naturally")
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	ops, err := w.queue.LeaseBatch(w.ctx, w.cfg.BatchSize)
	if err != nil {
		log.WithError(err).Warn("leasing fallback batch failed")
		return
	}

	var batchWg sync.WaitGroup
	for _, op := range ops {
		op := op
		batchWg.Add(1)
		go func() {
			defer batchWg.Done()
			w.processOne(op)
		}()
	}
	batchWg.Wait()
}

func (w *Worker) processOne(op FallbackOp) {
	owner, ok, err := w.lease.Acquire(w.ctx, op.RequestID, w.cfg.LeaseTTL)
	if err != nil {
		log.WithError(err).WithField("requestId", op.RequestID).Warn("acquiring fallback lease failed")
		return
	}
	if !ok {
		return // another worker holds this op
	}
	defer func() {
		if err := w.lease.Release(w.ctx, op.RequestID, owner); err != nil {
			log.WithError(err).WithField("requestId", op.RequestID).Warn("releasing fallback lease failed")
		}
	}()

	execCtx, cancel := context.WithTimeout(w.ctx, w.cfg.LeaseTTL)
	defer cancel()

	err = w.exec.Execute(execCtx, op)
	if err == nil {
		if cerr := w.queue.Complete(w.ctx, op); cerr != nil {
			log.WithError(cerr).WithField("requestId", op.RequestID).Warn("completing fallback op failed")
			return
		}
		w.counters.RecordFallbackOutcome(w.ctx, op.Context.Collection, true)
		return
	}

	log.WithError(err).WithField("requestId", op.RequestID).WithField("attempt", op.AttemptCount+1).Warn("fallback replay failed")
	next := w.nextAttempt(op.AttemptCount)
	if rerr := w.queue.Reschedule(w.ctx, op, next, err, w.cfg.MaxAttempts); rerr != nil {
		log.WithError(rerr).WithField("requestId", op.RequestID).Warn("rescheduling fallback op failed")
	}
	w.counters.RecordFallbackOutcome(w.ctx, op.Context.Collection, false)
}

// nextAttempt computes nextAttemptAt using an exponential backoff
// schedule with jitter, capped at cfg.MaxDelay (spec §4.7).
func (w *Worker) nextAttempt(attemptCount int) time.Time {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.BaseDelay
	eb.MaxInterval = w.cfg.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	delay := eb.InitialInterval
	for i := 0; i < attemptCount; i++ {
		delay = eb.NextBackOff()
	}
	if delay <= 0 || delay == backoff.Stop {
		delay = w.cfg.MaxDelay
	}
	return time.Now().UTC().Add(delay)
}
