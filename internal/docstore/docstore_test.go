package docstore_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/db"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
)

type note struct {
	Owner string `json:"owner"`
	Count int    `json:"count"`
	Tag   string `json:"tag,omitempty"`
}

// backends returns every store the suite runs against. Redis is only
// exercised when TEST_REDIS_URL points at a disposable server.
func backends(t *testing.T) map[string]docstore.Store {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)

	stores := map[string]docstore.Store{
		"memory": docstore.NewMemoryStore(),
		"sqlite": docstore.NewSQLStore(conn, docstore.DialectSQLite),
	}
	purge := func() {}
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		client, err := docstore.ConnectRedis(ctx, url)
		require.NoError(t, err)
		prefix := "test:" + t.Name() + ":"
		purge = func() {
			keys, _ := client.Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				_ = client.Del(ctx, keys...).Err()
			}
		}
		purge()
		stores["redis"] = docstore.NewRedisStore(client, prefix)
	}
	t.Cleanup(func() {
		purge()
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestGetMissingDocument(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var n note
			err := store.Get(context.Background(), "notes", "nope", &n)
			assert.ErrorIs(t, err, appErrors.ErrNotFound)
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "notes", "a", note{Owner: "x", Count: 1}))

			var got note
			require.NoError(t, store.Get(ctx, "notes", "a", &got))
			assert.Equal(t, note{Owner: "x", Count: 1}, got)

			require.NoError(t, store.Set(ctx, "notes", "a", note{Owner: "y"}))
			require.NoError(t, store.Get(ctx, "notes", "a", &got))
			assert.Equal(t, note{Owner: "y"}, got)

			require.NoError(t, store.Delete(ctx, "notes", "a"))
			assert.ErrorIs(t, store.Get(ctx, "notes", "a", &got), appErrors.ErrNotFound)

			// deleting twice is fine
			assert.NoError(t, store.Delete(ctx, "notes", "a"))
		})
	}
}

func TestSetWithMerge(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "notes", "m", note{Owner: "x", Count: 3, Tag: "keep"}))
			require.NoError(t, store.Set(ctx, "notes", "m", map[string]any{"count": 4}, docstore.WithMerge()))

			var got note
			require.NoError(t, store.Get(ctx, "notes", "m", &got))
			assert.Equal(t, note{Owner: "x", Count: 4, Tag: "keep"}, got)

			// merge onto a missing document creates it
			require.NoError(t, store.Set(ctx, "notes", "fresh", map[string]any{"owner": "z"}, docstore.WithMerge()))
			var fresh note
			require.NoError(t, store.Get(ctx, "notes", "fresh", &fresh))
			assert.Equal(t, note{Owner: "z"}, fresh)
		})
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "notes", "keep", note{Owner: "x"}))

			boom := errors.New("boom")
			err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
				if err := tx.Set(ctx, "notes", "new", note{Owner: "tx"}); err != nil {
					return err
				}
				if err := tx.Delete(ctx, "notes", "keep"); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			var got note
			assert.ErrorIs(t, store.Get(ctx, "notes", "new", &got), appErrors.ErrNotFound)
			require.NoError(t, store.Get(ctx, "notes", "keep", &got))
			assert.Equal(t, "x", got.Owner)
		})
	}
}

func TestTransactionSeesItsOwnWrites(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
				if err := tx.Set(ctx, "notes", "own", note{Owner: "tx", Count: 1}); err != nil {
					return err
				}
				var got note
				if err := tx.Get(ctx, "notes", "own", &got); err != nil {
					return err
				}
				got.Count++
				return tx.Set(ctx, "notes", "own", got)
			})
			require.NoError(t, err)

			var got note
			require.NoError(t, store.Get(ctx, "notes", "own", &got))
			assert.Equal(t, 2, got.Count)
		})
	}
}

// Many callers race to create the same document; exactly one may win.
func TestConcurrentCreateHasOneWinner(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const callers = 8

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []string
			)
			for i := 0; i < callers; i++ {
				owner := string(rune('a' + i))
				wg.Add(1)
				go func() {
					defer wg.Done()
					created := false
					err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
						created = false
						var existing note
						err := tx.Get(ctx, "notes", "race", &existing)
						if err == nil {
							return nil
						}
						if !errors.Is(err, appErrors.ErrNotFound) {
							return err
						}
						created = true
						return tx.Set(ctx, "notes", "race", note{Owner: owner})
					})
					if err != nil {
						assert.ErrorIs(t, err, appErrors.ErrConflict)
						return
					}
					if created {
						mu.Lock()
						winners = append(winners, owner)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			require.Len(t, winners, 1)
			var got note
			require.NoError(t, store.Get(ctx, "notes", "race", &got))
			assert.Equal(t, winners[0], got.Owner)
		})
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT body FROM documents WHERE collection = ? AND id = ?`
	assert.Equal(t, q, docstore.Rebind(docstore.DialectSQLite, q))
	assert.Equal(t, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, docstore.Rebind(docstore.DialectPostgres, q))
}
