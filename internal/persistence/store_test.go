package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aleksih/kesto/pkg/api"
)

type storeFactory func(t *testing.T) api.SnapshotStore

func newMemoryStore(t *testing.T) api.SnapshotStore {
	t.Helper()
	return NewMemoryStore()
}

func newFileStore(t *testing.T) api.SnapshotStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newSQLiteStore(t *testing.T) api.SnapshotStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": newMemoryStore,
		"file":   newFileStore,
		"sqlite": newSQLiteStore,
	}
}

func sampleSnapshot(id string) *api.Snapshot {
	return &api.Snapshot{
		ID:            id,
		WorkflowID:    "run-42",
		StepIndex:     3,
		Status:        api.StatusSuspended,
		SuspendReason: api.WaitingForEvent("payment-settled"),
		Variables: map[string]any{
			"order_id": "ord-17",
			"amount":   49.90,
		},
		ResumeCondition: api.WaitingForEvent("payment-settled").Condition(),
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			snap := sampleSnapshot("snap-1")
			require.NoError(t, store.Save(ctx, snap))
			assert.Equal(t, int64(1), snap.Version)

			loaded, err := store.Load(ctx, "snap-1")
			require.NoError(t, err)

			assert.Equal(t, snap.StepIndex, loaded.StepIndex)
			assert.Equal(t, snap.SuspendReason, loaded.SuspendReason)
			assert.Equal(t, snap.ResumeCondition, loaded.ResumeCondition)
			assert.Equal(t, "ord-17", loaded.Variables["order_id"])
			assert.Equal(t, int64(1), loaded.Version)
		})
	}
}

func TestStore_InsertExistingIDConflicts(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			require.NoError(t, store.Save(ctx, sampleSnapshot("snap-1")))

			err := store.Save(ctx, sampleSnapshot("snap-1"))
			require.Error(t, err)
			assert.True(t, api.IsConcurrencyConflict(err))
		})
	}
}

func TestStore_VersionedSaveDetectsRace(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			require.NoError(t, store.Save(ctx, sampleSnapshot("snap-1")))

			// Two resumers load the same version.
			first, err := store.Load(ctx, "snap-1")
			require.NoError(t, err)
			second, err := store.Load(ctx, "snap-1")
			require.NoError(t, err)

			// First save wins and increments the version.
			require.NoError(t, store.Save(ctx, first))
			assert.Equal(t, int64(2), first.Version)

			// Second save carries the stale version and loses.
			err = store.Save(ctx, second)
			require.Error(t, err)
			assert.True(t, api.IsConcurrencyConflict(err))
		})
	}
}

func TestStore_SaveUnknownIDWithVersionIsNotFound(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			snap := sampleSnapshot("snap-missing")
			snap.Version = 3

			err := factory(t).Save(context.Background(), snap)
			require.Error(t, err)
			assert.True(t, api.IsNotFound(err))
		})
	}
}

func TestStore_LoadUnknownID(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			_, err := factory(t).Load(context.Background(), "nope")
			require.Error(t, err)
			assert.True(t, api.IsNotFound(err))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			require.NoError(t, store.Save(ctx, sampleSnapshot("snap-1")))
			require.NoError(t, store.Delete(ctx, "snap-1"))

			_, err := store.Load(ctx, "snap-1")
			assert.True(t, api.IsNotFound(err))

			err = store.Delete(ctx, "snap-1")
			assert.True(t, api.IsNotFound(err))
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			require.NoError(t, store.Save(ctx, sampleSnapshot("snap-a")))
			require.NoError(t, store.Save(ctx, sampleSnapshot("snap-b")))

			summaries, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, summaries, 2)

			ids := map[string]bool{}
			for _, sum := range summaries {
				ids[sum.ID] = true
				assert.Equal(t, api.StatusSuspended, sum.Status)
				assert.Equal(t, api.SuspendWaitingForEvent, sum.SuspendReason.Kind)
			}
			assert.True(t, ids["snap-a"])
			assert.True(t, ids["snap-b"])
		})
	}
}

func TestStore_CleanupBefore(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			old := sampleSnapshot("snap-old")
			old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
			require.NoError(t, store.Save(ctx, old))

			fresh := sampleSnapshot("snap-fresh")
			require.NoError(t, store.Save(ctx, fresh))

			removed, err := store.CleanupBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, err = store.Load(ctx, "snap-old")
			assert.True(t, api.IsNotFound(err))

			_, err = store.Load(ctx, "snap-fresh")
			assert.NoError(t, err)
		})
	}
}
