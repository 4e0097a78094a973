// Package retention implements xronox's background Version-row pruning
// task (spec §4.9): for each collection, delete Version rows older than
// the configured number of days or beyond the configured per-item count,
// whichever bound is stricter. Payload objects and Head rows are never
// touched — only store.DocumentStore.PruneVersions is called, which makes
// time-travel history durable forever unless retention is configured to
// trim it.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/store"
)

var log = common.NewLogger("retention")

// DefaultSweepInterval is how often the background sweeper runs when the
// caller doesn't override it.
const DefaultSweepInterval = 1 * time.Hour

// Sweeper periodically prunes Version rows across a fixed set of
// collections, the same Start/Stop/ticker-loop shape used by
// fallback.Worker and analytics.Store.
type Sweeper struct {
	docs        store.DocumentStore
	collections []string
	policy      config.RetentionPolicy
	interval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper over every collection named in
// collectionMaps. interval <= 0 falls back to DefaultSweepInterval.
func NewSweeper(docs store.DocumentStore, collectionMaps map[string]config.CollectionMap, policy config.RetentionPolicy, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	collections := make([]string, 0, len(collectionMaps))
	for name := range collectionMaps {
		collections = append(collections, name)
	}
	return &Sweeper{
		docs:        docs,
		collections: collections,
		policy:      policy,
		interval:    interval,
	}
}

// Start runs an initial sweep immediately, then repeats on interval until
// Stop is called or ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits for the in-flight sweep, if any, to
// finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	s.sweepOnce(s.ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(s.ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, collection := range s.collections {
		deleted, err := Run(ctx, s.docs, collection, s.policy)
		if err != nil {
			log.WithError(err).WithField("collection", collection).Warn("retention sweep failed")
			continue
		}
		if deleted > 0 {
			log.WithField("collection", collection).WithField("deleted", deleted).Info("pruned version rows")
		}
	}
}

// Run prunes collection's Version rows once, applying policy's bounds.
// A zero Days or MaxPerItem leaves that bound unenforced.
func Run(ctx context.Context, docs store.DocumentStore, collection string, policy config.RetentionPolicy) (int, error) {
	var maxAge time.Duration
	if policy.Days > 0 {
		maxAge = time.Duration(policy.Days) * 24 * time.Hour
	}
	return docs.PruneVersions(ctx, collection, maxAge, policy.MaxPerItem)
}
