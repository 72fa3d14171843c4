package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

// LeaseManager guards a campaign key so only one invocation works on it at a time
type LeaseManager interface {
	// Acquire never returns an error: any failure is a refusal with a reason.
	Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, string)
	Release(ctx context.Context, key, holderID string) error
}

type LeaseRepository struct {
	Store docstore.Store
	Log   zerolog.Logger
	Now   func() time.Time
}

func (r *LeaseRepository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Acquire reads the current lease and writes the caller's lease in the same
// transaction. An expired lease is taken over regardless of who holds it.
func (r *LeaseRepository) Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, string) {
	now := r.now()
	var (
		acquired bool
		reason   string
		previous *model.Lease
	)

	err := r.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		acquired, reason, previous = false, "", nil

		var current model.Lease
		err := tx.Get(ctx, docstore.CollectionLeases, key, &current)
		switch {
		case errors.Is(err, appErrors.ErrNotFound):
		case err != nil:
			return err
		case !current.IsStale(now):
			reason = fmt.Sprintf("lease held by %s for another %s", current.HeldBy, current.Remaining(now).Round(time.Millisecond))
			return nil
		default:
			previous = &current
		}

		lease := model.Lease{
			Key:               key,
			HeldBy:            holderID,
			AcquiredAtEpochMs: now.UnixMilli(),
			TTLMs:             ttl.Milliseconds(),
		}
		if err := tx.Set(ctx, docstore.CollectionLeases, key, lease); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		r.Log.Warn().Err(err).Str("campaign", key).Str("holder", holderID).Msg("lease transaction failed")
		return false, "lease transaction failed: " + err.Error()
	}

	if acquired && previous != nil {
		r.Log.Warn().
			Str("campaign", key).
			Str("holder", holderID).
			Str("previous_holder", previous.HeldBy).
			Dur("previous_age", previous.Age(now)).
			Msg("took over stale lease")
	}
	if !acquired {
		r.Log.Info().Str("campaign", key).Str("holder", holderID).Str("reason", reason).Msg("lease not acquired")
	}
	return acquired, reason
}

// Release deletes the lease only while holderID still owns it, so an invocation
// whose lease was taken over cannot free its successor's lease.
func (r *LeaseRepository) Release(ctx context.Context, key, holderID string) error {
	err := r.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var current model.Lease
		err := tx.Get(ctx, docstore.CollectionLeases, key, &current)
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.HeldBy != holderID {
			r.Log.Warn().Str("campaign", key).Str("holder", holderID).Str("current_holder", current.HeldBy).Msg("lease owned by another invocation; leaving it")
			return nil
		}
		return tx.Delete(ctx, docstore.CollectionLeases, key)
	})
	return appErrors.NewStoreError("release lease", err)
}

var _ LeaseManager = (*LeaseRepository)(nil)
