package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/channel"
	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

// DispatchResult holds per-recipient outcomes of one batch. Unsent is the
// suffix of the batch, in batch order, that was never handed to the channel
// because the context ended first.
type DispatchResult struct {
	Succeeded []string
	Failed    []string
	Unsent    []string
}

// Attempted is how many leading recipients of a batch of size n were handled
func (r DispatchResult) Attempted(n int) int {
	return n - len(r.Unsent)
}

type BatchDispatcher interface {
	Dispatch(ctx context.Context, recipients []model.Recipient, weekStart time.Time, perSecondLimit int) DispatchResult
}

// Dispatcher sends a batch in chunks of perSecondLimit messages, starting a new
// chunk no sooner than one second after the previous one started.
type Dispatcher struct {
	Channel  channel.Channel
	Renderer Renderer
	Log      zerolog.Logger
}

// Dispatch renders every recipient and sends what rendered. A recipient that
// cannot be rendered fails alone.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []model.Recipient, weekStart time.Time, perSecondLimit int) DispatchResult {
	msgs := make([]model.OutboundMessage, 0, len(recipients))
	renderFailed := make(map[string]bool)
	for _, rc := range recipients {
		msg, err := d.Renderer.Render(rc, weekStart)
		if err != nil {
			d.Log.Warn().Err(&appErrors.RenderError{RecipientID: rc.ID, Err: err}).Str("recipient", rc.ID).Msg("render failed")
			renderFailed[rc.ID] = true
			continue
		}
		msgs = append(msgs, msg)
	}

	succeeded, failed, unsent := d.SendBatch(ctx, msgs, perSecondLimit)
	if len(unsent) == 0 {
		for _, rc := range recipients {
			if renderFailed[rc.ID] {
				failed = append(failed, rc.ID)
			}
		}
		return DispatchResult{Succeeded: succeeded, Failed: failed}
	}

	// everything from the first unsent recipient on is left for the next run,
	// including render failures behind it
	cut := len(recipients)
	first := unsent[0]
	for i, rc := range recipients {
		if rc.ID == first {
			cut = i
			break
		}
	}
	out := DispatchResult{Succeeded: succeeded, Failed: failed, Unsent: make([]string, 0, len(recipients)-cut)}
	for i, rc := range recipients {
		switch {
		case i >= cut:
			out.Unsent = append(out.Unsent, rc.ID)
		case renderFailed[rc.ID]:
			out.Failed = append(out.Failed, rc.ID)
		}
	}
	return out
}

// SendBatch sends msgs chunk by chunk. Messages whose chunk could not start
// before ctx ended come back as unsent, never as failed.
func (d *Dispatcher) SendBatch(ctx context.Context, msgs []model.OutboundMessage, perSecondLimit int) (succeeded, failed, unsent []string) {
	if perSecondLimit < 1 {
		perSecondLimit = 1
	}
	succeeded = make([]string, 0, len(msgs))
	failed = []string{}

	// every chunk reserves a full second of budget, even a short last one
	limiter := rate.NewLimiter(rate.Limit(perSecondLimit), perSecondLimit)
	start := time.Now()
	chunks := 0

	for i := 0; i < len(msgs); i += perSecondLimit {
		end := min(i+perSecondLimit, len(msgs))
		chunk := msgs[i:end]

		if err := limiter.WaitN(ctx, perSecondLimit); err != nil {
			d.Log.Warn().Err(err).Int("unsent", len(msgs)-i).Msg("dispatch stopped before next chunk")
			unsent = recipientIDs(msgs[i:])
			break
		}
		chunks++

		ok, bad := d.sendChunk(ctx, chunk)
		succeeded = append(succeeded, ok...)
		failed = append(failed, bad...)
	}

	d.Log.Info().
		Int("messages", len(msgs)).
		Int("chunks", chunks).
		Int("succeeded", len(succeeded)).
		Int("failed", len(failed)).
		Int("unsent", len(unsent)).
		Dur("took", time.Since(start)).
		Msg("batch sent")
	return succeeded, failed, unsent
}

// EstimateBatchDuration is the least time a batch of n messages takes at
// perSecondLimit, since chunk starts are at least a second apart.
func EstimateBatchDuration(n, perSecondLimit int) time.Duration {
	if n < 1 {
		return 0
	}
	if perSecondLimit < 1 {
		perSecondLimit = 1
	}
	chunks := (n + perSecondLimit - 1) / perSecondLimit
	return time.Duration(chunks) * time.Second
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []model.OutboundMessage) (succeeded, failed []string) {
	report, err := d.Channel.SendBulk(ctx, chunk)
	if err != nil {
		d.Log.Warn().Err(&appErrors.ChunkSendError{Size: len(chunk), Err: err}).Msg("chunk rejected; marking all recipients failed")
		return nil, recipientIDs(chunk)
	}
	if !report.Attributable() {
		d.Log.Warn().
			Int("size", len(chunk)).
			Int("failure_count", report.FailureCount).
			Int("failed_ids", len(report.FailedIDs)).
			Msg("channel failures not attributable to recipients; marking chunk failed")
		return nil, recipientIDs(chunk)
	}

	bad := toSet(report.FailedIDs)
	for _, m := range chunk {
		if bad[m.RecipientID] {
			failed = append(failed, m.RecipientID)
		} else {
			succeeded = append(succeeded, m.RecipientID)
		}
	}
	return succeeded, failed
}

func recipientIDs(msgs []model.OutboundMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.RecipientID
	}
	return ids
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var _ BatchDispatcher = (*Dispatcher)(nil)
