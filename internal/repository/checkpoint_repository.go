package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

type CheckpointStore interface {
	LoadOrInit(ctx context.Context, key, weekStart string) (*model.Campaign, error)
	Save(ctx context.Context, key string, u CheckpointUpdate) error
	Get(ctx context.Context, key string) (*model.Campaign, error)
}

// CheckpointUpdate carries the outcome of one dispatched batch
type CheckpointUpdate struct {
	LastProcessedIndex int
	Cursor             string
	Succeeded          []string
	Failed             []string
	Status             model.CampaignStatus
}

type CheckpointRepository struct {
	Store docstore.Store
	Log   zerolog.Logger
	Now   func() time.Time
}

func (r *CheckpointRepository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *CheckpointRepository) LoadOrInit(ctx context.Context, key, weekStart string) (*model.Campaign, error) {
	var campaign *model.Campaign
	err := r.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var existing model.Campaign
		err := tx.Get(ctx, docstore.CollectionCampaigns, key, &existing)
		if err == nil {
			campaign = &existing
			return nil
		}
		if !errors.Is(err, appErrors.ErrNotFound) {
			return err
		}
		campaign = model.NewCampaign(key, weekStart, r.now())
		return tx.Set(ctx, docstore.CollectionCampaigns, key, campaign)
	})
	if err != nil {
		return nil, appErrors.NewStoreError("load checkpoint", err)
	}
	return campaign, nil
}

func (r *CheckpointRepository) Get(ctx context.Context, key string) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.Store.Get(ctx, docstore.CollectionCampaigns, key, &campaign)
	if errors.Is(err, appErrors.ErrNotFound) {
		return nil, appErrors.NewCampaignNotFound(key)
	}
	if err != nil {
		return nil, appErrors.NewStoreError("get checkpoint", err)
	}
	return &campaign, nil
}

// Save is a plain read-merge-write. The lease makes the runner the only writer,
// so no transaction is used here.
func (r *CheckpointRepository) Save(ctx context.Context, key string, u CheckpointUpdate) error {
	campaign, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if campaign.IsCompleted() {
		return appErrors.ErrCampaignCompleted
	}

	if u.LastProcessedIndex < campaign.LastProcessedIndex {
		r.Log.Warn().
			Str("campaign", key).
			Int("stored_index", campaign.LastProcessedIndex).
			Int("update_index", u.LastProcessedIndex).
			Msg("ignoring checkpoint index that moves backwards")
	} else {
		campaign.LastProcessedIndex = u.LastProcessedIndex
		if u.Cursor != "" {
			campaign.Cursor = u.Cursor
		}
	}
	campaign.SucceededIDs, campaign.FailedIDs = mergeOutcomes(campaign.SucceededIDs, campaign.FailedIDs, u.Succeeded, u.Failed)
	if u.Status.IsValid() {
		campaign.Status = u.Status
	}
	campaign.UpdatedAt = r.now()

	if err := r.Store.Set(ctx, docstore.CollectionCampaigns, key, campaign); err != nil {
		return appErrors.NewStoreError("save checkpoint", err)
	}
	return nil
}

// mergeOutcomes appends the new ids and keeps each id only in the set of its
// most recent outcome.
func mergeOutcomes(succeeded, failed, newSucceeded, newFailed []string) ([]string, []string) {
	nowSucceeded := toSet(newSucceeded)
	nowFailed := toSet(newFailed)

	outSucceeded := make([]string, 0, len(succeeded)+len(newSucceeded))
	seen := make(map[string]bool, cap(outSucceeded))
	for _, id := range succeeded {
		if !nowFailed[id] && !seen[id] {
			seen[id] = true
			outSucceeded = append(outSucceeded, id)
		}
	}
	for _, id := range newSucceeded {
		if !seen[id] {
			seen[id] = true
			outSucceeded = append(outSucceeded, id)
		}
	}

	outFailed := make([]string, 0, len(failed)+len(newFailed))
	seen = make(map[string]bool, cap(outFailed))
	for _, id := range failed {
		if !nowSucceeded[id] && !seen[id] {
			seen[id] = true
			outFailed = append(outFailed, id)
		}
	}
	for _, id := range newFailed {
		if !seen[id] {
			seen[id] = true
			outFailed = append(outFailed, id)
		}
	}
	return outSucceeded, outFailed
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var _ CheckpointStore = (*CheckpointRepository)(nil)
