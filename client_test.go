package xronox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/fallback"
	"github.com/nx-intelligence/xronox/retention"
	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/store/storetest"
)

// newTestClient builds a Client wired directly to in-memory fakes,
// bypassing New's network dialing entirely by handing ConnPool factories
// that always return the same fakes. This exercises the real Resolve /
// sagaDeps / recordAnalytics wiring without a live CouchDB or S3.
func newTestClient(t *testing.T) (*Client, *storetest.FakeDocumentStore, *storetest.FakeObjectStore) {
	t.Helper()

	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()

	cfg := config.Config{
		DocConnections:   map[config.ConnRef]config.DocConnectionInfo{"docs": {}},
		SpaceConnections: map[config.ConnRef]config.SpaceConnectionInfo{"objs": {}},
		Databases: map[config.DatabaseType]config.DatabaseTypeConfig{
			config.DatabaseTypeMetadata: {
				GenericDatabase: config.BackendRef{
					DocConnRef:   "docs",
					SpaceConnRef: "objs",
					Bucket:       "content",
					DBName:       "metadata",
				},
			},
		},
		CollectionMaps: map[string]config.CollectionMap{
			"orders": {
				IndexedProps:    []string{"status", "total"},
				RequiredIndexed: []string{"status"},
			},
		},
		Versioning:    config.VersioningConfig{Enabled: true},
		LogicalDelete: config.LogicalDeleteConfig{Enabled: true},
	}
	require.NoError(t, cfg.Validate())

	c := &Client{
		cfg:      cfg,
		router:   router.New(cfg),
		workers:  make(map[config.ConnRef]*fallback.Worker),
		sweepers: make(map[config.ConnRef]*retention.Sweeper),
	}
	c.pool = router.NewConnPool(cfg,
		func(ctx context.Context, ref config.ConnRef, info config.DocConnectionInfo) (store.DocumentStore, error) {
			return docs, nil
		},
		func(ctx context.Context, ref config.ConnRef, info config.SpaceConnectionInfo) (store.ObjectStore, error) {
			return objs, nil
		},
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, docs, objs
}

func testRouteContext() router.RouteContext {
	return router.RouteContext{
		DatabaseType: config.DatabaseTypeMetadata,
		Tier:         config.TierGeneric,
		Collection:   "orders",
	}
}

func TestResolve_OpensBackendsOnce(t *testing.T) {
	c, docs, objs := newTestClient(t)
	gotDocs, gotObjs, route, err := c.Resolve(context.Background(), testRouteContext())
	require.NoError(t, err)
	require.Same(t, docs, gotDocs)
	require.Same(t, objs, gotObjs)
	require.Equal(t, "content", route.Bucket)
}

func TestResolve_UnknownCollection_StillResolvesRoute(t *testing.T) {
	c, _, _ := newTestClient(t)
	rc := testRouteContext()
	rc.Collection = "unmapped"
	_, _, route, err := c.Resolve(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, "metadata", route.DBName)
}

func TestShutdown_ClosesPool(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, _, _, err := c.Resolve(context.Background(), testRouteContext())
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background()))
}
