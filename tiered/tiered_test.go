package tiered

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/store/storetest"
)

// fakeBackend resolves each tier to its own isolated store pair, keyed
// by tier+tenant/domain, so tests can seed different tiers independently.
type fakeBackend struct {
	byKey map[string]*storetest.FakeDocumentStore
	objs  *storetest.FakeObjectStore
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{byKey: make(map[string]*storetest.FakeDocumentStore), objs: storetest.NewFakeObjectStore()}
}

func (b *fakeBackend) docsFor(rc router.RouteContext) *storetest.FakeDocumentStore {
	k := string(rc.Tier) + "|" + rc.TenantID + "|" + rc.Domain
	if d, ok := b.byKey[k]; ok {
		return d
	}
	d := storetest.NewFakeDocumentStore()
	b.byKey[k] = d
	return d
}

func (b *fakeBackend) Resolve(ctx context.Context, rc router.RouteContext) (store.DocumentStore, store.ObjectStore, router.Route, error) {
	return b.docsFor(rc), b.objs, router.Route{}, nil
}

func seed(t *testing.T, docs *storetest.FakeDocumentStore, objs *storetest.FakeObjectStore, collection, id string, payload map[string]any) {
	t.Helper()
	ctx := context.Background()
	key := collection + "/" + id + "/item.json"
	_, _, err := objs.PutJSON(ctx, "bucket1", key, payload)
	require.NoError(t, err)
	head := store.HeadRow{ID: id, Collection: collection, Ov: 0, Cv: 1, JSONBucket: "bucket1", JSONKey: key, MetaIndexed: payload}
	require.NoError(t, docs.UpdateHeadCAS(ctx, collection, head, -1, nil))
}

func TestFetch_FallbackPrefersTenant(t *testing.T) {
	backend := newFakeBackend()
	tenantDocs := backend.docsFor(router.RouteContext{Tier: "tenant", TenantID: "acme"})
	seed(t, tenantDocs, backend.objs, "orders", "item1", map[string]any{"status": "tenant-open"})
	genericDocs := backend.docsFor(router.RouteContext{Tier: "generic"})
	seed(t, genericDocs, backend.objs, "orders", "item1", map[string]any{"status": "generic-open"})

	view, err := Fetch(context.Background(), backend, Spec{
		Collection: "orders", ItemID: "item1", TenantID: "acme", Mode: ModeFallback,
	})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "tenant-open", view.Payload["status"])
}

func TestFetch_FallbackFallsThroughToGeneric(t *testing.T) {
	backend := newFakeBackend()
	genericDocs := backend.docsFor(router.RouteContext{Tier: "generic"})
	seed(t, genericDocs, backend.objs, "orders", "item1", map[string]any{"status": "generic-open"})

	view, err := Fetch(context.Background(), backend, Spec{
		Collection: "orders", ItemID: "item1", TenantID: "acme", Mode: ModeFallback,
	})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "generic-open", view.Payload["status"])
}

func TestFetch_MergeCombinesTiers(t *testing.T) {
	backend := newFakeBackend()
	tenantDocs := backend.docsFor(router.RouteContext{Tier: "tenant", TenantID: "acme"})
	seed(t, tenantDocs, backend.objs, "orders", "item1", map[string]any{"status": "tenant-open"})
	genericDocs := backend.docsFor(router.RouteContext{Tier: "generic"})
	seed(t, genericDocs, backend.objs, "orders", "item1", map[string]any{"status": "generic-open", "defaultRate": 1})

	view, err := Fetch(context.Background(), backend, Spec{
		Collection: "orders", ItemID: "item1", TenantID: "acme", Mode: ModeMerge,
	})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "tenant-open", view.Payload["status"])
	assert.Equal(t, float64(1), view.Payload["defaultRate"])
}
