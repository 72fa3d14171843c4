package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/db"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
)

const testKey = "weekly-plan-2026-10-19"

// --- Helpers ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// brokenStore fails every operation
type brokenStore struct{}

var errStoreDown = errors.New("store unavailable")

func (brokenStore) Get(context.Context, string, string, any) error { return errStoreDown }
func (brokenStore) Set(context.Context, string, string, any, ...docstore.SetOption) error {
	return errStoreDown
}
func (brokenStore) Delete(context.Context, string, string) error { return errStoreDown }
func (brokenStore) RunTransaction(context.Context, func(tx docstore.Tx) error) error {
	return errStoreDown
}
func (brokenStore) Close() error { return nil }

func sqliteStore(t *testing.T) *docstore.SQLStore {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return docstore.NewSQLStore(conn, docstore.DialectSQLite)
}

// stores adds a redis backend when TEST_REDIS_URL points at a disposable server
func stores(t *testing.T) map[string]docstore.Store {
	t.Helper()
	out := map[string]docstore.Store{
		"memory": docstore.NewMemoryStore(),
		"sqlite": sqliteStore(t),
	}
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		client, err := docstore.ConnectRedis(context.Background(), url)
		require.NoError(t, err)
		prefix := "test:" + t.Name() + ":"
		purge := func() {
			keys, _ := client.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				_ = client.Del(context.Background(), keys...).Err()
			}
		}
		purge()
		store := docstore.NewRedisStore(client, prefix)
		t.Cleanup(func() {
			purge()
			_ = store.Close()
		})
		out["redis"] = store
	}
	return out
}

// --- Tests ---

func TestAcquireFreeLease(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			leases := &repository.LeaseRepository{Store: store, Log: zerolog.Nop(), Now: clock.Now}

			ok, reason := leases.Acquire(context.Background(), testKey, "exec-1", 2*time.Minute)
			assert.True(t, ok)
			assert.Empty(t, reason)

			var lease model.Lease
			require.NoError(t, store.Get(context.Background(), docstore.CollectionLeases, testKey, &lease))
			assert.Equal(t, "exec-1", lease.HeldBy)
			assert.Equal(t, clock.Now().UnixMilli(), lease.AcquiredAtEpochMs)
			assert.Equal(t, int64(120000), lease.TTLMs)
		})
	}
}

func TestAcquireHeldLeaseIsRefused(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			leases := &repository.LeaseRepository{Store: store, Log: zerolog.Nop(), Now: clock.Now}
			ctx := context.Background()

			ok, _ := leases.Acquire(ctx, testKey, "exec-1", 2*time.Minute)
			require.True(t, ok)

			clock.Advance(30 * time.Second)
			ok, reason := leases.Acquire(ctx, testKey, "exec-2", 2*time.Minute)
			assert.False(t, ok)
			assert.Contains(t, reason, "lease held by exec-1")

			var lease model.Lease
			require.NoError(t, store.Get(ctx, docstore.CollectionLeases, testKey, &lease))
			assert.Equal(t, "exec-1", lease.HeldBy)
		})
	}
}

func TestAcquireTakesOverStaleLease(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			leases := &repository.LeaseRepository{Store: store, Log: zerolog.Nop(), Now: clock.Now}
			ctx := context.Background()

			ok, _ := leases.Acquire(ctx, testKey, "crashed", 2*time.Minute)
			require.True(t, ok)

			clock.Advance(2 * time.Minute)
			ok, reason := leases.Acquire(ctx, testKey, "exec-2", 2*time.Minute)
			assert.True(t, ok, reason)

			var lease model.Lease
			require.NoError(t, store.Get(ctx, docstore.CollectionLeases, testKey, &lease))
			assert.Equal(t, "exec-2", lease.HeldBy)
			assert.Equal(t, clock.Now().UnixMilli(), lease.AcquiredAtEpochMs)
		})
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			leases := &repository.LeaseRepository{Store: store, Log: zerolog.Nop(), Now: clock.Now}
			ctx := context.Background()

			ok, _ := leases.Acquire(ctx, testKey, "slow", time.Minute)
			require.True(t, ok)
			clock.Advance(time.Minute)
			ok, _ = leases.Acquire(ctx, testKey, "successor", time.Minute)
			require.True(t, ok)

			// the overtaken invocation finishes late and must not free the successor's lease
			require.NoError(t, leases.Release(ctx, testKey, "slow"))
			ok, _ = leases.Acquire(ctx, testKey, "third", time.Minute)
			assert.False(t, ok)

			require.NoError(t, leases.Release(ctx, testKey, "successor"))
			ok, _ = leases.Acquire(ctx, testKey, "third", time.Minute)
			assert.True(t, ok)
		})
	}
}

func TestReleaseMissingLease(t *testing.T) {
	leases := &repository.LeaseRepository{Store: docstore.NewMemoryStore(), Log: zerolog.Nop()}
	assert.NoError(t, leases.Release(context.Background(), testKey, "nobody"))
}

func TestAcquireFailsClosed(t *testing.T) {
	leases := &repository.LeaseRepository{Store: brokenStore{}, Log: zerolog.Nop()}

	ok, reason := leases.Acquire(context.Background(), testKey, "exec-1", time.Minute)
	assert.False(t, ok)
	assert.Contains(t, reason, "lease transaction failed")
	assert.Contains(t, reason, errStoreDown.Error())

	assert.ErrorIs(t, leases.Release(context.Background(), testKey, "exec-1"), errStoreDown)
}

func TestConcurrentAcquireHasOneHolder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			leases := &repository.LeaseRepository{Store: store, Log: zerolog.Nop()}
			const callers = 10

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				holders []string
			)
			for i := 0; i < callers; i++ {
				holder := "exec-" + string(rune('a'+i))
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, _ := leases.Acquire(context.Background(), testKey, holder, time.Minute); ok {
						mu.Lock()
						holders = append(holders, holder)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			require.Len(t, holders, 1)
			var lease model.Lease
			require.NoError(t, store.Get(context.Background(), docstore.CollectionLeases, testKey, &lease))
			assert.Equal(t, holders[0], lease.HeldBy)
		})
	}
}
