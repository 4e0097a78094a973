package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/idkit"
	"github.com/nx-intelligence/xronox/store/storetest"
)

func newTestSaga() (*Saga, *storetest.FakeDocumentStore, *storetest.FakeObjectStore) {
	docs := storetest.NewFakeDocumentStore()
	objs := storetest.NewFakeObjectStore()
	deps := Deps{
		DocStore:   docs,
		ObjStore:   objs,
		Bucket:     "content",
		Collection: "orders",
		Spec: config.CollectionMap{
			IndexedProps:    []string{"status"},
			RequiredIndexed: []string{"status"},
		},
		Versioning: true,
	}
	return New(deps), docs, objs
}

func TestRun_Create(t *testing.T) {
	s, docs, objs := newTestSaga()
	out, err := s.Run(context.Background(), Input{
		Op:   OpCreate,
		Data: map[string]any{"status": "open", "total": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Ov)
	assert.Equal(t, int64(1), out.Cv)
	assert.True(t, out.Created)

	head, err := docs.FindHead(context.Background(), "orders", out.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "open", head.MetaIndexed["status"])
	assert.Equal(t, 1, objs.Count())
}

func TestRun_CreateMissingRequiredField(t *testing.T) {
	s, _, _ := newTestSaga()
	_, err := s.Run(context.Background(), Input{
		Op:   OpCreate,
		Data: map[string]any{"total": 42},
	})
	assert.Error(t, err)
}

func TestRun_UpdateThenOptimisticLock(t *testing.T) {
	s, _, _ := newTestSaga()
	created, err := s.Run(context.Background(), Input{
		Op:   OpCreate,
		Data: map[string]any{"status": "open"},
	})
	require.NoError(t, err)

	id := mustParseID(t, created.ID)
	updated, err := s.Run(context.Background(), Input{
		Op:     OpUpdate,
		ItemID: id,
		Data:   map[string]any{"status": "shipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Ov)
	assert.Equal(t, int64(2), updated.Cv)

	badOv := int64(0)
	_, err = s.Run(context.Background(), Input{
		Op:         OpUpdate,
		ItemID:     id,
		Data:       map[string]any{"status": "cancelled"},
		ExpectedOv: &badOv,
	})
	assert.Error(t, err)
}

func TestRun_EnrichDeepMerges(t *testing.T) {
	s, docs, _ := newTestSaga()
	created, err := s.Run(context.Background(), Input{
		Op:   OpCreate,
		Data: map[string]any{"status": "open", "tags": []any{"a"}},
	})
	require.NoError(t, err)
	id := mustParseID(t, created.ID)

	_, err = s.Run(context.Background(), Input{
		Op:     OpEnrich,
		ItemID: id,
		Data:   map[string]any{"tags": []any{"b", "a"}},
	})
	require.NoError(t, err)

	head, err := docs.FindHead(context.Background(), "orders", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", head.MetaIndexed["status"])
}

func mustParseID(t *testing.T, s string) idkit.ID {
	t.Helper()
	id, err := idkit.Parse(s)
	require.NoError(t, err)
	return id
}
