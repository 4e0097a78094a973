package xronox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardDelete_RemovesHeadVersionsAndObjects(t *testing.T) {
	c, docs, objs := newTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)
	_, err = ops.Update(context.Background(), created.ID, map[string]any{"status": "shipped"}, nil, "", "")
	require.NoError(t, err)

	objectsBefore := objs.Count()
	require.Greater(t, objectsBefore, 0)

	require.NoError(t, ops.HardDelete(context.Background(), created.ID))

	head, err := docs.FindHead(context.Background(), "orders", created.ID)
	require.NoError(t, err)
	assert.Nil(t, head)

	view, err := ops.GetItem(context.Background(), created.ID, GetItemOpts{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Nil(t, view)

	assert.Less(t, objs.Count(), objectsBefore, "hard delete must remove the item's blob objects")
}

func TestHardDelete_InvalidID(t *testing.T) {
	c, _, _ := newTestClient(t)
	ops := c.With(testRouteContext())
	err := ops.HardDelete(context.Background(), "not-a-valid-id")
	assert.Error(t, err)
}
