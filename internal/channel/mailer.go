package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/queue"
)

// Mailer performs the final delivery of one message
type Mailer interface {
	Deliver(ctx context.Context, msg model.OutboundMessage) error
}

// LogMailer records deliveries in the log instead of talking to a mail provider
type LogMailer struct {
	Log zerolog.Logger
}

func (m *LogMailer) Deliver(_ context.Context, msg model.OutboundMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("message has no recipient address")
	}
	m.Log.Info().
		Str("recipient", msg.RecipientID).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTMLBody)).
		Msg("📩 delivered weekly plan")
	return nil
}

// DecodeMessage parses a queued payload back into a message
func DecodeMessage(body []byte) (model.OutboundMessage, error) {
	var msg model.OutboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid outbound message: %w", err)
	}
	if msg.RecipientID == "" {
		return msg, errors.New("invalid outbound message: missing recipient_id")
	}
	return msg, nil
}

// StartDeliverySubscriber wires an in-process queue topic to a mailer
func StartDeliverySubscriber(q queue.Queue, topic string, mailer Mailer, log zerolog.Logger) error {
	return q.Subscribe(topic, func(payload any) error {
		msg, ok := payload.(model.OutboundMessage)
		if !ok {
			// retrying cannot fix a payload of the wrong type
			log.Warn().Str("topic", topic).Msgf("invalid payload type %T, expected OutboundMessage", payload)
			return nil
		}
		return mailer.Deliver(context.Background(), msg)
	})
}
