package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// RabbitQueue publishes JSON payloads to durable queues with publisher confirms
// and consumes them for the delivery worker.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger

	mu       sync.Mutex
	confirms chan amqp.Confirmation
	nextTag  uint64
	declared map[string]bool
}

func DialRabbit(url string, log zerolog.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open a channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &RabbitQueue{
		conn:     conn,
		ch:       ch,
		log:      log,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 64)),
		declared: make(map[string]bool),
	}, nil
}

func (q *RabbitQueue) declare(name string) error {
	if q.declared[name] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

// Publish returns once the broker confirmed the message
func (q *RabbitQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.publishRaw(ctx, topic, body, nil)
}

func (q *RabbitQueue) publishRaw(ctx context.Context, topic string, body []byte, headers amqp.Table) error {
	// one in-flight publish at a time keeps confirms matched to their message
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	err := q.ch.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	q.nextTag++
	want := q.nextTag

	for {
		select {
		case conf, ok := <-q.confirms:
			if !ok {
				return errors.New("rabbitmq channel closed before confirm")
			}
			// confirms of earlier publishes whose caller gave up
			if conf.DeliveryTag < want {
				continue
			}
			if !conf.Ack {
				return fmt.Errorf("broker rejected message %d", conf.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Consume runs handler for every delivery until ctx ends. A failed delivery is
// republished with an incremented retry header until maxRetries is reached.
func (q *RabbitQueue) Consume(ctx context.Context, topic string, maxRetries int, handler func(body []byte) error) error {
	q.mu.Lock()
	err := q.declare(topic)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	consumer, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.handleDelivery(ctx, topic, maxRetries, d, handler)
		}
	}
}

func (q *RabbitQueue) handleDelivery(ctx context.Context, topic string, maxRetries int, d amqp.Delivery, handler func(body []byte) error) {
	err := handler(d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := RetryCount(d.Headers)
	if retries >= maxRetries {
		q.log.Error().Err(err).Str("queue", topic).Int("retries", retries).Msg("dropping message after max retries")
		_ = d.Ack(false)
		return
	}

	headers := amqp.Table{retryHeader: int32(retries + 1)}
	if perr := q.publishRaw(ctx, topic, d.Body, headers); perr != nil {
		q.log.Warn().Err(perr).Str("queue", topic).Msg("requeue via republish failed; returning message to broker")
		_ = d.Nack(false, true)
		return
	}
	q.log.Warn().Err(err).Str("queue", topic).Int("retry", retries+1).Msg("delivery failed; message requeued")
	_ = d.Ack(false)
}

// RetryCount reads the retry header whatever integer type the broker decoded it as
func RetryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (q *RabbitQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}
