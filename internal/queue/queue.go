package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher hands a payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Queue interface
type Queue interface {
	Publisher
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers payloads to in-process subscribers with retry
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	log        zerolog.Logger
	maxRetries int
	backoff    time.Duration
	wg         sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger, maxRetries int) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		log:        log,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish accepts the payload once at least one subscriber exists.
// Delivery happens asynchronously.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: q.maxRetries,
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go func(h func(payload any) error) {
			defer q.wg.Done()
			q.processJob(topic, h, job)
		}(handler)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		q.log.Warn().Err(err).Str("topic", topic).Int("attempt", job.RetryCount).Int("max_retries", job.MaxRetries).Msg("job failed")

		if job.RetryCount > job.MaxRetries {
			q.log.Error().Str("topic", topic).Int("attempts", job.RetryCount).Msg("job permanently failed")
			return
		}

		// linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Drain waits until every published job has been handled or dropped
func (q *InMemoryQueue) Drain() {
	q.wg.Wait()
}
