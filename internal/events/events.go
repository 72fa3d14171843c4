// Package events publishes campaign lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	TypeBatchDispatched   = "weekly_plan.batch_dispatched"
	TypeCampaignCompleted = "weekly_plan.campaign_completed"
)

type Event struct {
	Type        string    `json:"type"`
	CampaignKey string    `json:"campaign_key"`
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// KafkaPublisher writes events keyed by campaign so one campaign stays ordered
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.CampaignKey),
		Value: payload,
		Time:  e.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured
type LogPublisher struct {
	Log zerolog.Logger
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.Log.Info().
		Str("event", e.Type).
		Str("campaign", e.CampaignKey).
		Str("execution_id", e.ExecutionID).
		Str("status", e.Status).
		Int("processed", e.Processed).
		Int("succeeded", e.Succeeded).
		Int("failed", e.Failed).
		Msg("campaign event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
