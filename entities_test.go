package xronox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/config"
)

func newEntityTestClient(t *testing.T) *Client {
	t.Helper()
	c, _, _ := newTestClient(t)
	c.cfg.CollectionMaps["contacts"] = config.CollectionMap{
		IndexedProps:    []string{"email"},
		RequiredIndexed: []string{"email"},
	}
	return c
}

func TestInsertWithEntities_SplitsEmbeddedRecord(t *testing.T) {
	c := newEntityTestClient(t)
	ops := c.With(testRouteContext())

	out, err := ops.InsertWithEntities(context.Background(), map[string]any{
		"status": "open",
		"contact": map[string]any{
			"email": "a@example.com",
			"name":  "Ada",
		},
	}, InsertWithEntitiesOpts{
		Mappings: []EntityMapping{
			{Property: "contact", Collection: "contacts", KeyProperty: "email"},
		},
		Actor: "alice",
	})
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	require.NoError(t, out.Entities[0].Err)
	assert.True(t, out.Entities[0].Output.Created)

	mainView, err := ops.GetItem(context.Background(), out.Main.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", mainView.Payload["contact"], "main record keeps the entity's key value in place of the embedded object")
	assert.Equal(t, "open", mainView.Payload["status"])

	contactOps := c.With(routeFor(testRouteContext(), "contacts"))
	contactView, err := contactOps.GetItem(context.Background(), out.Entities[0].Output.ID, GetItemOpts{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", contactView.Payload["name"])
}

func TestGetWithEntities_ReassemblesRecord(t *testing.T) {
	c := newEntityTestClient(t)
	ops := c.With(testRouteContext())

	insertOut, err := ops.InsertWithEntities(context.Background(), map[string]any{
		"status": "open",
		"contact": map[string]any{
			"email": "b@example.com",
			"name":  "Bea",
		},
	}, InsertWithEntitiesOpts{
		Mappings: []EntityMapping{
			{Property: "contact", Collection: "contacts", KeyProperty: "email"},
		},
	})
	require.NoError(t, err)

	got, err := ops.GetWithEntities(context.Background(), insertOut.Main.ID, []EntityMapping{
		{Property: "contact", Collection: "contacts", KeyProperty: "email"},
	}, GetItemOpts{})
	require.NoError(t, err)
	require.NotNil(t, got.Main)
	require.Contains(t, got.Entities, "contact")
	contact, ok := got.Entities["contact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bea", contact["name"])
}

func TestGetWithEntities_NoReferenceResolvesNothing(t *testing.T) {
	c := newEntityTestClient(t)
	ops := c.With(testRouteContext())

	created, err := ops.Create(context.Background(), map[string]any{"status": "open"}, "", "", CreateOpts{})
	require.NoError(t, err)

	got, err := ops.GetWithEntities(context.Background(), created.ID, []EntityMapping{
		{Property: "contact", Collection: "contacts", KeyProperty: "email"},
	}, GetItemOpts{})
	require.NoError(t, err)
	assert.Empty(t, got.Entities)
}
