// Package xronox is the public entry point for the versioned,
// time-travel persistence layer: a Client wires the router, connection
// pool, write-path saga, read path, fallback queue/worker, analytics
// counters, and retention sweeper into one handle built from a single
// resolved config.Config.
package xronox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nx-intelligence/xronox/analytics"
	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/fallback"
	"github.com/nx-intelligence/xronox/idkit"
	"github.com/nx-intelligence/xronox/retention"
	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/saga"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/store/couchdb"
	"github.com/nx-intelligence/xronox/store/localfs"
	"github.com/nx-intelligence/xronox/store/s3store"
)

var log = common.NewLogger("xronox")

// Client is xronox's public handle: build one per process from a
// resolved config.Config, then obtain a BoundOps through With for every
// request. Backend connections are opened lazily, the first time a
// given ConnRef is touched by a Resolve call.
type Client struct {
	cfg    config.Config
	router *router.Router
	pool   *router.ConnPool

	redisClient *goredis.Client
	lease       *fallback.LeaseCoordinator

	analyticsStore *analytics.Store

	mu       sync.Mutex
	workers  map[config.ConnRef]*fallback.Worker
	sweepers map[config.ConnRef]*retention.Sweeper

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg and builds a Client over it.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		router:   router.New(cfg),
		workers:  make(map[config.ConnRef]*fallback.Worker),
		sweepers: make(map[config.ConnRef]*retention.Sweeper),
	}
	c.pool = router.NewConnPool(cfg, c.dialDocStore, c.dialObjectStore)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if cfg.Analytics.Enabled {
		store, err := analytics.NewStore(cfg.Analytics.PostgresDSN, cfg.Analytics)
		if err != nil {
			c.cancel()
			return nil, fmt.Errorf("xronox: opening analytics store: %w", err)
		}
		store.Start(c.ctx)
		c.analyticsStore = store
	}

	if cfg.Fallback.Enabled {
		opts, err := goredis.ParseURL(cfg.Fallback.RedisURL)
		if err != nil {
			c.cancel()
			return nil, fmt.Errorf("xronox: parsing fallback redis url: %w", err)
		}
		c.redisClient = goredis.NewClient(opts)
		c.lease = fallback.NewLeaseCoordinator(c.redisClient)
	}

	return c, nil
}

func (c *Client) dialDocStore(ctx context.Context, ref config.ConnRef, info config.DocConnectionInfo) (store.DocumentStore, error) {
	// One ConnRef maps to one physical CouchDB database shared across
	// every collection the ref is used for; collections are
	// distinguished by the "collection" field on each document (see
	// store/couchdb's package doc comment).
	return couchdb.Dial(ctx, info.URL, string(ref), info.Timeout)
}

func (c *Client) dialObjectStore(ctx context.Context, ref config.ConnRef, info config.SpaceConnectionInfo) (store.ObjectStore, error) {
	if strings.HasPrefix(info.Endpoint, "file://") {
		return localfs.New(strings.TrimPrefix(info.Endpoint, "file://"))
	}
	s, err := s3store.Dial(ctx, info.Endpoint, info.Region, info.AccessKeyID, info.SecretAccessKey, info.UsePathStyle)
	if err != nil {
		return nil, err
	}
	if info.ContentBucket != "" {
		if err := s.EnsureBucket(ctx, info.ContentBucket); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Resolve implements tiered.Backend: it turns a RouteContext into a
// concrete DocumentStore/ObjectStore pair through the connection pool,
// starting the fallback worker and retention sweeper for that backend
// the first time it's touched.
func (c *Client) Resolve(ctx context.Context, rc router.RouteContext) (store.DocumentStore, store.ObjectStore, router.Route, error) {
	route, err := c.router.Resolve(rc)
	if err != nil {
		return nil, nil, router.Route{}, err
	}
	docs, err := c.pool.DocStore(ctx, route.DocConnRef)
	if err != nil {
		return nil, nil, router.Route{}, err
	}
	objs, err := c.pool.ObjectStore(ctx, route.SpaceConnRef)
	if err != nil {
		return nil, nil, router.Route{}, err
	}
	c.ensureBackgroundTasks(route.DocConnRef, docs)
	return docs, objs, route, nil
}

func (c *Client) ensureBackgroundTasks(ref config.ConnRef, docs store.DocumentStore) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Fallback.Enabled && c.lease != nil {
		if _, ok := c.workers[ref]; !ok {
			queue := fallback.NewQueue(docs)
			wcfg := fallback.DefaultWorkerConfig()
			if c.cfg.Fallback.PollInterval > 0 {
				wcfg.PollInterval = c.cfg.Fallback.PollInterval
			}
			if c.cfg.Fallback.BatchSize > 0 {
				wcfg.BatchSize = c.cfg.Fallback.BatchSize
			}
			if c.cfg.Fallback.MaxAttempts > 0 {
				wcfg.MaxAttempts = c.cfg.Fallback.MaxAttempts
			}
			if c.cfg.Fallback.BaseDelay > 0 {
				wcfg.BaseDelay = c.cfg.Fallback.BaseDelay
			}
			if c.cfg.Fallback.MaxDelay > 0 {
				wcfg.MaxDelay = c.cfg.Fallback.MaxDelay
			}
			if c.cfg.Fallback.LeaseTTL > 0 {
				wcfg.LeaseTTL = c.cfg.Fallback.LeaseTTL
			}
			var counters fallback.Counters
			if c.analyticsStore != nil {
				counters = c.analyticsStore
			}
			worker := fallback.NewWorker(queue, c.lease, c, wcfg, counters)
			worker.Start(c.ctx)
			c.workers[ref] = worker
		}
	}

	if c.cfg.Retention.Days > 0 || c.cfg.Retention.MaxPerItem > 0 {
		if _, ok := c.sweepers[ref]; !ok {
			sweeper := retention.NewSweeper(docs, c.cfg.CollectionMaps, c.cfg.Retention, retention.DefaultSweepInterval)
			sweeper.Start(c.ctx)
			c.sweepers[ref] = sweeper
		}
	}
}

// sagaDeps builds the saga.Deps for a write against collection, using
// route and spec already resolved by the caller.
func (c *Client) sagaDeps(docs store.DocumentStore, objs store.ObjectStore, route router.Route, collection string, spec config.CollectionMap) saga.Deps {
	versioning := c.cfg.Versioning.Enabled
	if spec.VersioningEnabled != nil {
		versioning = *spec.VersioningEnabled
	}
	return saga.Deps{
		DocStore:      docs,
		ObjStore:      objs,
		Bucket:        route.Bucket,
		Collection:    collection,
		Spec:          spec,
		LogicalDelete: c.cfg.LogicalDelete.Enabled,
		Versioning:    versioning,
		DevShadow:     c.cfg.DevShadow,
	}
}

// recordAnalytics forwards a committed write to the counters subsystem,
// a no-op when analytics isn't configured.
func (c *Client) recordAnalytics(rc router.RouteContext, opKind string, payload map[string]any, out saga.Output) {
	if c.analyticsStore == nil {
		return
	}
	c.analyticsStore.Record(analytics.Event{
		DBName:       rc.DBName,
		Collection:   rc.Collection,
		TenantID:     rc.TenantID,
		OpKind:       opKind,
		PayloadScope: payload,
		MetaScope:    out.MetaIndexed,
	})
}

// Execute implements fallback.Executor: it replays a queued FallbackOp
// through the saga exactly as the original BoundOps call would have,
// resolving the route fresh (the backend may have changed since the op
// was enqueued) and reading the item's current head, so re-execution is
// idempotent even if the original write partially landed.
func (c *Client) Execute(ctx context.Context, op fallback.FallbackOp) error {
	rc := router.RouteContext{
		DatabaseType: config.DatabaseType(op.Context.DatabaseType),
		Tier:         config.Tier(op.Context.Tier),
		TenantID:     op.Context.TenantID,
		Domain:       op.Context.Domain,
		DBName:       op.Context.DBName,
		Collection:   op.Context.Collection,
	}
	docs, objs, route, err := c.Resolve(ctx, rc)
	if err != nil {
		return err
	}
	spec := c.cfg.CollectionMaps[op.Context.Collection]
	in, err := decodeFallbackPayload(saga.OpKind(op.OpKind), op.Payload)
	if err != nil {
		return err
	}
	_, err = saga.New(c.sagaDeps(docs, objs, route, op.Context.Collection, spec)).Run(ctx, in)
	return err
}

// Shutdown stops every background loop this Client started and releases
// pooled backend connections.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	workers := make([]*fallback.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	sweepers := make([]*retention.Sweeper, 0, len(c.sweepers))
	for _, s := range c.sweepers {
		sweepers = append(sweepers, s)
	}
	c.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	for _, s := range sweepers {
		s.Stop()
	}
	if c.analyticsStore != nil {
		c.analyticsStore.Stop()
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			log.WithError(err).Warn("closing fallback redis client")
		}
	}
	c.cancel()
	return c.pool.Shutdown(ctx)
}

// encodeFallbackPayload flattens a saga.Input into the map shape a
// FallbackOp durably queues; decodeFallbackPayload reverses it on
// replay.
func encodeFallbackPayload(in saga.Input) map[string]any {
	return map[string]any{
		"itemId":           in.ItemID.String(),
		"data":             in.Data,
		"expectedOv":       in.ExpectedOv,
		"actor":            in.Actor,
		"reason":           in.Reason,
		"functionId":       in.FunctionID,
		"uniqueKeys":       in.UniqueKeys,
		"parentId":         in.ParentID,
		"parentCollection": in.ParentCollection,
		"originId":         in.OriginID,
		"originCollection": in.OriginCollection,
		"originSystem":     in.OriginSystem,
	}
}

func decodeFallbackPayload(op saga.OpKind, payload map[string]any) (saga.Input, error) {
	in := saga.Input{Op: op}
	if v, ok := payload["itemId"].(string); ok && v != "" {
		id, err := idkit.Parse(v)
		if err != nil {
			return saga.Input{}, fmt.Errorf("xronox: decoding queued item id: %w", err)
		}
		in.ItemID = id
	}
	if v, ok := payload["data"].(map[string]any); ok {
		in.Data = v
	}
	if v, ok := payload["actor"].(string); ok {
		in.Actor = v
	}
	if v, ok := payload["reason"].(string); ok {
		in.Reason = v
	}
	if v, ok := payload["functionId"].(string); ok {
		in.FunctionID = v
	}
	if v, ok := payload["parentId"].(string); ok {
		in.ParentID = v
	}
	if v, ok := payload["parentCollection"].(string); ok {
		in.ParentCollection = v
	}
	if v, ok := payload["originId"].(string); ok {
		in.OriginID = v
	}
	if v, ok := payload["originCollection"].(string); ok {
		in.OriginCollection = v
	}
	if v, ok := payload["originSystem"].(string); ok {
		in.OriginSystem = v
	}
	switch v := payload["expectedOv"].(type) {
	case float64:
		ov := int64(v)
		in.ExpectedOv = &ov
	case int64:
		ov := v
		in.ExpectedOv = &ov
	}
	switch v := payload["uniqueKeys"].(type) {
	case []string:
		in.UniqueKeys = v
	case []any:
		keys := make([]string, 0, len(v))
		for _, k := range v {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		in.UniqueKeys = keys
	}
	return in, nil
}
