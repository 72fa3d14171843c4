// Package channel is the notification channel the dispatcher sends through.
package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/queue"
)

// Channel sends a chunk of messages in one call. A returned error means the
// whole chunk failed; otherwise the report says which recipients failed.
type Channel interface {
	SendBulk(ctx context.Context, msgs []model.OutboundMessage) (model.SendReport, error)
}

// QueueChannel hands each message of a chunk to a queue concurrently.
// A message counts as sent once the queue accepted it.
type QueueChannel struct {
	Publisher   queue.Publisher
	Topic       string
	MaxInFlight int
	Log         zerolog.Logger
}

func (c *QueueChannel) SendBulk(ctx context.Context, msgs []model.OutboundMessage) (model.SendReport, error) {
	if err := ctx.Err(); err != nil {
		return model.SendReport{}, err
	}

	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	if c.MaxInFlight > 0 {
		g.SetLimit(c.MaxInFlight)
	}
	for _, m := range msgs {
		m := m
		g.Go(func() error {
			if err := c.Publisher.Publish(ctx, c.Topic, m); err != nil {
				c.Log.Warn().Err(err).Str("recipient", m.RecipientID).Str("topic", c.Topic).Msg("publish failed")
				mu.Lock()
				failed = append(failed, m.RecipientID)
				mu.Unlock()
			}
			return nil
		})
	}
	// every publish reported its own outcome, including those cut short by ctx
	_ = g.Wait()
	return model.SendReport{
		SuccessCount: len(msgs) - len(failed),
		FailureCount: len(failed),
		FailedIDs:    failed,
	}, nil
}

var _ Channel = (*QueueChannel)(nil)
