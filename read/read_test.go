package read

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/store/storetest"
)

func seedItem(t *testing.T, docs *storetest.FakeDocumentStore, objs *storetest.FakeObjectStore, collection, id string, ov, cv int64, status string, deleted bool, at time.Time) {
	t.Helper()
	ctx := context.Background()
	key := collection + "/" + id + "/item.json"
	_, _, err := objs.PutJSON(ctx, "bucket1", key, map[string]any{"status": status})
	require.NoError(t, err)

	head := store.HeadRow{
		ID: id, Collection: collection, Ov: ov, Cv: cv,
		JSONBucket: "bucket1", JSONKey: key,
		MetaIndexed: map[string]any{"status": status},
		System:      store.SystemEnvelope{Deleted: deleted},
		UpdatedAt:   at,
	}
	require.NoError(t, docs.UpdateHeadCAS(ctx, collection, head, ov-1, nil))

	v := store.VersionRow{
		ItemID: id, Collection: collection, Ov: ov, Cv: cv, OpKind: "CREATE",
		JSONBucket: "bucket1", JSONKey: key,
		MetaIndexed: map[string]any{"status": status},
		System:      store.SystemEnvelope{Deleted: deleted},
		At:          at,
	}
	require.NoError(t, docs.InsertVersion(ctx, collection, v, nil))
}

func TestGetItem_Latest(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	seedItem(t, docs, objs, "orders", "item1", 0, 1, "open", false, time.Now())

	view, err := GetItem(context.Background(), docs, objs, "orders", "item1", GetItemOpts{})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "open", view.Payload["status"])
}

func TestGetItem_LatestDeletedExcludedByDefault(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	seedItem(t, docs, objs, "orders", "item1", 0, 1, "open", true, time.Now())

	view, err := GetItem(context.Background(), docs, objs, "orders", "item1", GetItemOpts{})
	require.NoError(t, err)
	assert.Nil(t, view)

	view, err = GetItem(context.Background(), docs, objs, "orders", "item1", GetItemOpts{IncludeDeleted: true})
	require.NoError(t, err)
	require.NotNil(t, view)
}

func TestGetItem_ByOv(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	seedItem(t, docs, objs, "orders", "item1", 0, 1, "open", false, time.Now())

	view, err := GetItem(context.Background(), docs, objs, "orders", "item1", GetItemOpts{Ov: ptr(int64(0))})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "open", view.Payload["status"])
}

func TestGetItem_Missing(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	view, err := GetItem(context.Background(), docs, objs, "orders", "nope", GetItemOpts{})
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestQuery_Latest(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	seedItem(t, docs, objs, "orders", "item1", 0, 1, "open", false, time.Now())
	seedItem(t, docs, objs, "orders", "item2", 0, 2, "closed", false, time.Now())

	res, err := Query(context.Background(), docs, objs, "orders", store.MetaFilter{Eq: map[string]any{"status": "open"}}, QueryOpts{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "open", res.Items[0].Payload["status"])
}

func TestValidateFilterFields_RejectsNonIndexed(t *testing.T) {
	err := ValidateFilterFields(store.MetaFilter{Eq: map[string]any{"secret": "x"}}, []string{"status"})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
