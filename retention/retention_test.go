package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/store/storetest"
)

func seedVersions(t *testing.T, docs store.DocumentStore, collection, itemID string, ages []time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	for i, age := range ages {
		v := store.VersionRow{
			ID:         itemID + "/v" + string(rune('0'+i)),
			ItemID:     itemID,
			Collection: collection,
			Ov:         int64(i),
			OpKind:     "CREATE",
			At:         now.Add(-age),
		}
		require.NoError(t, docs.InsertVersion(context.Background(), collection, v, nil))
	}
}

func TestRun_PrunesByAge(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	seedVersions(t, docs, "orders", "item1", []time.Duration{
		2 * time.Hour, 48 * time.Hour, 200 * time.Hour,
	})

	deleted, err := Run(context.Background(), docs, "orders", config.RetentionPolicy{Days: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestRun_PrunesByMaxPerItem(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	seedVersions(t, docs, "orders", "item1", []time.Duration{
		1 * time.Hour, 2 * time.Hour, 3 * time.Hour, 4 * time.Hour,
	})

	deleted, err := Run(context.Background(), docs, "orders", config.RetentionPolicy{MaxPerItem: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestRun_StricterBoundWins(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	// Two rows within a day, but MaxPerItem keeps only the newest one.
	seedVersions(t, docs, "orders", "item1", []time.Duration{
		1 * time.Hour, 2 * time.Hour,
	})

	deleted, err := Run(context.Background(), docs, "orders", config.RetentionPolicy{Days: 30, MaxPerItem: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestRun_ZeroPolicyPrunesNothing(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	seedVersions(t, docs, "orders", "item1", []time.Duration{1 * time.Hour, 999 * time.Hour})

	deleted, err := Run(context.Background(), docs, "orders", config.RetentionPolicy{})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestSweeper_StartStopRunsInitialSweep(t *testing.T) {
	docs := storetest.NewFakeDocumentStore()
	seedVersions(t, docs, "orders", "item1", []time.Duration{200 * time.Hour})

	maps := map[string]config.CollectionMap{"orders": {}}
	s := NewSweeper(docs, maps, config.RetentionPolicy{Days: 1}, time.Hour)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		v, err := docs.FindVersionByOv(context.Background(), "orders", "item1", 0)
		return err == nil && v == nil
	}, time.Second, 10*time.Millisecond)
}
