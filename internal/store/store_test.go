package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqliteStore, err := Open(ctx, Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "watchers.db")})
	require.NoError(t, err)
	memoryStore, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqliteStore.Close()
		_ = memoryStore.Close()
	})
	return map[string]Store{"sqlite": sqliteStore, "memory": memoryStore}
}

func sample(id string, createdAt time.Time, active bool) watcher.Watcher {
	return watcher.Watcher{
		ID:           id,
		Kind:         watcher.GitHubWatch{Repo: "octo/hello", Events: []string{"PushEvent"}, Cadence: watcher.Cadence{IntervalSecs: 30}},
		Action:       "review " + id,
		ReplyChannel: "chat:" + id,
		Active:       active,
		CreatedAt:    createdAt,
	}
}

func TestStoreContract(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.InitSchema(ctx), "init schema is repeatable")

			require.NoError(t, st.Save(ctx, sample("c", base.Add(2*time.Second), true)))
			require.NoError(t, st.Save(ctx, sample("a", base, true)))
			require.NoError(t, st.Save(ctx, sample("b", base.Add(time.Second), false)))

			got, err := st.GetByID(ctx, "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, sample("a", base, true), *got)

			missing, err := st.GetByID(ctx, "zzz")
			require.NoError(t, err)
			assert.Nil(t, missing)

			active, err := st.GetActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, ids(active))

			all, err := st.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(all))

			updated := sample("a", base, true)
			updated.Action = "updated"
			require.NoError(t, st.Save(ctx, updated))
			got, err = st.GetByID(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "updated", got.Action)

			require.NoError(t, st.Deactivate(ctx, "a"))
			require.NoError(t, st.Deactivate(ctx, "a"))
			require.NoError(t, st.Deactivate(ctx, "missing"))
			active, err = st.GetActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, ids(active))

			require.NoError(t, st.SetActive(ctx, "b", true))
			active, err = st.GetActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, ids(active))

			require.NoError(t, st.Delete(ctx, "c"))
			require.NoError(t, st.Delete(ctx, "c"))
			got, err = st.GetByID(ctx, "c")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreOrdersTiesByID(t *testing.T) {
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"m", "b", "x"} {
				require.NoError(t, st.Save(ctx, sample(id, at, true)))
			}
			active, err := st.GetActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "m", "x"}, ids(active))
		})
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	base := time.Now().UTC()
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := string(rune('a' + i))
					assert.NoError(t, st.Save(ctx, sample(id, base.Add(time.Duration(i)*time.Millisecond), true)))
					assert.NoError(t, st.Deactivate(ctx, id))
				}(i)
			}
			wg.Wait()

			all, err := st.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 20)
			active, err := st.GetActive(ctx)
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "watchers.db")
	at := time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC)

	first, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, sample("keep", at, true)))
	require.NoError(t, first.Close())

	second, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer second.Close()

	active, err := second.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sample("keep", at, true), active[0])
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	boom := errors.New("disk unplugged")

	st.FailOn("get_active", boom)
	_, err := st.GetActive(ctx)
	require.Error(t, err)
	assert.True(t, watcher.IsPersistenceError(err))
	assert.ErrorIs(t, err, boom)

	st.FailOn("get_active", nil)
	_, err = st.GetActive(ctx)
	assert.NoError(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres"})
	assert.Error(t, err)
}

func ids(watchers []watcher.Watcher) []string {
	out := make([]string, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, w.ID)
	}
	return out
}
