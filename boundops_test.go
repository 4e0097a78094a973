package xronox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/store"
)

func TestBoundOps_CreateThenGetItem(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	out, err := ops.Create(context.Background(), map[string]any{"status": "open", "total": 42}, "alice", "new order", CreateOpts{})
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, int64(0), out.Ov)

	view, err := ops.GetItem(context.Background(), out.ID, GetItemOpts{})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "open", view.Payload["status"])
}

func TestBoundOps_CreateWithLineage(t *testing.T) {
	c, docs, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	out, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "alice", "", CreateOpts{
		ParentRecord: &ParentRef{ID: "parent123", Collection: "accounts"},
		Origin:       &OriginRef{ID: "ext-1", Collection: "legacy_orders", System: "legacy"},
	})
	require.NoError(t, err)

	head, err := docs.FindHead(context.Background(), "orders", out.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "parent123", head.System.ParentID)
	assert.Equal(t, "accounts", head.System.ParentCollection)
	assert.Equal(t, "ext-1", head.System.OriginID)
	assert.Equal(t, "legacy", head.System.OriginSystem)
}

func TestBoundOps_UpdateThenDelete(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "alice", "", CreateOpts{})
	require.NoError(t, err)

	updated, err := ops.Update(context.Background(), created.ID, map[string]any{"status": "shipped"}, nil, "alice", "ship")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Ov)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "shipped", view.Payload["status"])

	_, err = ops.Delete(context.Background(), created.ID, nil, "alice", "cancel")
	require.NoError(t, err)

	view, err = ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Nil(t, view)

	view, err = ops.GetItem(context.Background(), created.ID, GetItemOpts{IncludeDeleted: true})
	require.NoError(t, err)
	require.NotNil(t, view)
}

func TestBoundOps_Enrich(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open", "tags": []any{"a"}}, "alice", "", CreateOpts{})
	require.NoError(t, err)

	out, err := ops.Enrich(context.Background(), created.ID, []map[string]any{
		{"tags": []any{"b", "a"}},
		{"priority": "high"},
	}, EnrichOpts{FunctionID: "tagger"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Ov)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "high", view.Payload["priority"])
}

func TestBoundOps_Enrich_RequiresAtLeastOneRecord(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())
	_, err := ops.Enrich(context.Background(), "000000000000000000000000", nil, EnrichOpts{})
	assert.Error(t, err)
}

func TestBoundOps_SmartInsert_CreatesThenMerges(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	first, err := ops.SmartInsert(context.Background(), map[string]any{"status": "open", "total": 1}, SmartInsertOpts{
		UniqueKeys: []string{"status"},
	})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := ops.SmartInsert(context.Background(), map[string]any{"status": "open", "extra": "x"}, SmartInsertOpts{
		UniqueKeys: []string{"status"},
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestBoundOps_Query(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	_, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)
	_, err = ops.Create(context.Background(), map[string]any{"status": "closed"}, "", "", CreateOpts{})
	require.NoError(t, err)

	res, err := ops.Query(context.Background(), store.MetaFilter{Eq: map[string]any{"status": "open"}}, QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestBoundOps_Query_RejectsNonIndexedField(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())
	_, err := ops.Query(context.Background(), store.MetaFilter{Eq: map[string]any{"secret": "x"}}, QueryOpts{})
	assert.Error(t, err)
}

func TestBoundOps_RestoreObject(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)
	_, err = ops.Update(context.Background(), created.ID, map[string]any{"status": "shipped"}, nil, "", "")
	require.NoError(t, err)

	zero := int64(0)
	restored, err := ops.RestoreObject(context.Background(), created.ID, RestoreTarget{Ov: &zero}, "alice", "rollback")
	require.NoError(t, err)
	assert.Equal(t, int64(2), restored.Ov)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "open", view.Payload["status"])
}

func TestBoundOps_RestoreObject_ClearsDeletedState(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)
	_, err = ops.Delete(context.Background(), created.ID, nil, "", "")
	require.NoError(t, err)

	zero := int64(0)
	_, err = ops.RestoreObject(context.Background(), created.ID, RestoreTarget{Ov: &zero}, "", "undo delete")
	require.NoError(t, err)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	require.NotNil(t, view, "restore must clear logical-delete state")
}

func TestBoundOps_RestoreCollection_ByAt(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)
	cutoff := time.Now().UTC()
	time.Sleep(time.Millisecond)
	_, err = ops.Update(context.Background(), created.ID, map[string]any{"status": "shipped"}, nil, "", "")
	require.NoError(t, err)

	results, err := ops.RestoreCollection(context.Background(), RestoreCollectionTarget{At: &cutoff}, "alice", "bulk rollback")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "open", view.Payload["status"])
}
