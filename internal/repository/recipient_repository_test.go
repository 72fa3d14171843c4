package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/db"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
)

var weekRecipients = []model.Recipient{
	{ID: "r-1", Email: "one@example.com", Name: "One", Payload: map[string]string{"monday": "soup"}},
	{ID: "r-2", Email: "two@example.com", Name: "Two", Payload: map[string]string{"monday": "salad"}},
	{ID: "r-3", Email: "three@example.com", Name: "Three", OptedOut: true, Payload: map[string]string{"monday": "pie"}},
	{ID: "r-4", Email: "four@example.com", Name: "Four", Payload: map[string]string{"monday": "rice"}},
	{ID: "r-5", Email: "five@example.com", Name: "Five", Payload: map[string]string{"monday": "stew"}},
}

func recipientSources(t *testing.T) map[string]repository.RecipientSource {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	sqlRepo := &repository.RecipientRepository{DB: conn, Dialect: docstore.DialectSQLite}
	for _, rc := range weekRecipients {
		require.NoError(t, sqlRepo.Upsert(ctx, rc, "2026-10-19", rc.Payload))
	}
	// a plan for another week must not leak into this campaign
	require.NoError(t, sqlRepo.Upsert(ctx, model.Recipient{ID: "r-9", Email: "nine@example.com"}, "2026-10-26", map[string]string{"monday": "x"}))

	mem := repository.NewMemoryRecipientSource()
	mem.Add(testKey, weekRecipients...)

	return map[string]repository.RecipientSource{"sqlite": sqlRepo, "memory": mem}
}

func ids(recipients []model.Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, rc := range recipients {
		out = append(out, rc.ID)
	}
	return out
}

func TestNextBatchWithCursor(t *testing.T) {
	for name, src := range recipientSources(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := src.NextBatch(ctx, testKey, model.Position{Index: -1}, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"r-1", "r-2"}, ids(first))
			assert.Equal(t, "soup", first[0].Payload["monday"])

			second, err := src.NextBatch(ctx, testKey, model.Position{Index: 1, LastID: "r-2"}, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"r-4", "r-5"}, ids(second))

			rest, err := src.NextBatch(ctx, testKey, model.Position{Index: 3, LastID: "r-5"}, 2)
			require.NoError(t, err)
			assert.Empty(t, rest)
		})
	}
}

func TestNextBatchByIndexWithoutCursor(t *testing.T) {
	for name, src := range recipientSources(t) {
		t.Run(name, func(t *testing.T) {
			batch, err := src.NextBatch(context.Background(), testKey, model.Position{Index: 1}, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"r-4", "r-5"}, ids(batch))
		})
	}
}

func TestNextBatchZeroCount(t *testing.T) {
	for name, src := range recipientSources(t) {
		t.Run(name, func(t *testing.T) {
			batch, err := src.NextBatch(context.Background(), testKey, model.Position{Index: -1}, 0)
			require.NoError(t, err)
			assert.Empty(t, batch)
		})
	}
}

func TestNextBatchUnknownCampaign(t *testing.T) {
	for name, src := range recipientSources(t) {
		t.Run(name, func(t *testing.T) {
			batch, err := src.NextBatch(context.Background(), "weekly-plan-2026-11-02", model.Position{Index: -1}, 10)
			require.NoError(t, err)
			assert.Empty(t, batch)
		})
	}
}

func TestRecipientRepositoryRejectsBadKey(t *testing.T) {
	src := recipientSources(t)["sqlite"]
	_, err := src.NextBatch(context.Background(), "not-a-key", model.Position{Index: -1}, 10)
	assert.Error(t, err)
}

func TestOptOutAfterStartIsHonored(t *testing.T) {
	mem := repository.NewMemoryRecipientSource()
	mem.Add(testKey, weekRecipients...)
	mem.SetOptOut(testKey, "r-4", true)

	batch, err := mem.NextBatch(context.Background(), testKey, model.Position{Index: 1, LastID: "r-2"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-5"}, ids(batch))
}
