package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/events"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
)

type RunnerConfig struct {
	BatchSize        int
	RatePerSecond    int
	LeaseTTL         time.Duration
	InvocationBudget time.Duration
	MaxBatchesPerRun int
}

// CampaignRunner performs one invocation of the weekly campaign: it takes the
// lease, moves the checkpoint forward by at most MaxBatchesPerRun batches and
// always gives the lease back before returning.
type CampaignRunner struct {
	Leases      repository.LeaseManager
	Checkpoints repository.CheckpointStore
	Recipients  repository.RecipientSource
	Dispatcher  BatchDispatcher
	Events      events.Publisher
	Config      RunnerConfig
	Log         zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

func (r *CampaignRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *CampaignRunner) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r *CampaignRunner) Run(ctx context.Context, weekStart time.Time) (result *model.RunResult, err error) {
	executionID := r.newID()
	key := model.CampaignKey(weekStart)
	week := weekStart.Format(model.WeekLayout)
	log := r.Log.With().Str("execution_id", executionID).Str("campaign", key).Logger()
	started := r.now()

	result = &model.RunResult{WeekStartDate: week, ExecutionID: executionID}

	ok, reason := r.Leases.Acquire(ctx, key, executionID, r.Config.LeaseTTL)
	if !ok {
		result.Skipped = true
		result.Message = "skipped — lease held: " + reason
		log.Info().Str("reason", reason).Msg("invocation skipped")
		return result, nil
	}
	defer func() {
		// release even when the caller's context is already gone
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := r.Leases.Release(relCtx, key, executionID); relErr != nil {
			log.Warn().Err(relErr).Msg("lease release failed; it will expire by TTL")
		}
	}()

	fail := func(step string, cause error) (*model.RunResult, error) {
		log.Error().Err(cause).Str("step", step).Msg("invocation failed")
		result.Message = "failed at " + step
		return result, &appErrors.RunError{ExecutionID: executionID, Step: step, Err: cause}
	}

	campaign, err := r.Checkpoints.LoadOrInit(ctx, key, week)
	if err != nil {
		return fail("load checkpoint", err)
	}
	if campaign.IsCompleted() {
		result.Completed = true
		result.Message = "already completed"
		log.Info().Int("processed_total", campaign.Processed()).Msg("campaign already completed")
		return result, nil
	}

	maxBatches := max(r.Config.MaxBatchesPerRun, 1)
	softLimit := r.Config.InvocationBudget * 9 / 10
	batchCost := EstimateBatchDuration(r.Config.BatchSize, r.Config.RatePerSecond)

	for n := 0; n < maxBatches; n++ {
		if n > 0 {
			// a batch that cannot finish inside the budget is left to the next trigger
			if elapsed := r.now().Sub(started); softLimit > 0 && elapsed+batchCost > softLimit {
				log.Info().Dur("elapsed", elapsed).Dur("batch_cost", batchCost).Msg("time budget nearly spent; leaving remaining batches to the next trigger")
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		after := model.Position{Index: campaign.LastProcessedIndex, LastID: campaign.Cursor}
		batch, err := r.Recipients.NextBatch(ctx, key, after, r.Config.BatchSize)
		if err != nil {
			return fail("fetch recipients", err)
		}

		if len(batch) == 0 {
			alreadyDone, err := r.save(ctx, key, repository.CheckpointUpdate{
				LastProcessedIndex: campaign.LastProcessedIndex,
				Status:             model.CampaignCompleted,
			})
			if err != nil {
				return fail("save checkpoint", err)
			}
			result.Completed = true
			if alreadyDone {
				result.Message = "already completed"
				break
			}
			result.Message = "completed — no more recipients"
			r.publish(ctx, log, events.TypeCampaignCompleted, key, executionID, model.CampaignCompleted, 0, 0, 0)
			break
		}

		out := r.Dispatcher.Dispatch(ctx, batch, weekStart, r.Config.RatePerSecond)
		attempted := out.Attempted(len(batch))
		if attempted <= 0 {
			log.Warn().Int("batch", len(batch)).Msg("invocation ended before any chunk was sent; checkpoint unchanged")
			result.Message = "stopped — time budget spent"
			break
		}

		status := model.CampaignInProgress
		if len(out.Unsent) == 0 && len(batch) < r.Config.BatchSize {
			status = model.CampaignCompleted
		}
		update := repository.CheckpointUpdate{
			LastProcessedIndex: campaign.LastProcessedIndex + attempted,
			Cursor:             batch[attempted-1].ID,
			Succeeded:          out.Succeeded,
			Failed:             out.Failed,
			Status:             status,
		}
		alreadyDone, err := r.save(ctx, key, update)
		if err != nil {
			return fail("save checkpoint", err)
		}
		campaign.LastProcessedIndex = update.LastProcessedIndex
		campaign.Cursor = update.Cursor
		campaign.Status = status

		result.Processed += attempted
		result.Failed += len(out.Failed)
		log.Info().
			Int("batch", len(batch)).
			Int("attempted", attempted).
			Int("succeeded", len(out.Succeeded)).
			Int("failed", len(out.Failed)).
			Int("unsent", len(out.Unsent)).
			Int("last_processed_index", update.LastProcessedIndex).
			Str("status", status.String()).
			Msg("batch checkpointed")

		if alreadyDone {
			// another invocation completed the campaign while this one was sending
			result.Completed = true
			result.Message = "already completed"
			break
		}
		r.publish(ctx, log, events.TypeBatchDispatched, key, executionID, status, attempted, len(out.Succeeded), len(out.Failed))

		if status == model.CampaignCompleted {
			result.Completed = true
			result.Message = "completed"
			r.publish(ctx, log, events.TypeCampaignCompleted, key, executionID, status, campaign.Processed(), 0, 0)
			break
		}
		result.Message = "batch dispatched"
		if len(out.Unsent) > 0 {
			result.Message = "stopped — time budget spent"
			break
		}
	}

	return result, nil
}

// save persists progress even if the invocation context was cancelled mid-batch,
// since the recipients in the batch have already been sent to. alreadyDone is
// true when the checkpoint was completed by someone else and nothing was written.
func (r *CampaignRunner) save(ctx context.Context, key string, u repository.CheckpointUpdate) (alreadyDone bool, err error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err = r.Checkpoints.Save(saveCtx, key, u)
	if errors.Is(err, appErrors.ErrCampaignCompleted) {
		return true, nil
	}
	return false, err
}

func (r *CampaignRunner) publish(ctx context.Context, log zerolog.Logger, typ, key, executionID string, status model.CampaignStatus, processed, succeeded, failed int) {
	if r.Events == nil {
		return
	}
	err := r.Events.Publish(ctx, events.Event{
		Type:        typ,
		CampaignKey: key,
		ExecutionID: executionID,
		Status:      status.String(),
		Processed:   processed,
		Succeeded:   succeeded,
		Failed:      failed,
		OccurredAt:  r.now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("event", typ).Msg("publish campaign event failed")
	}
}
