package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/channel"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/logging"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/queue"
)

func main() {
	cfg, _, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to RabbitMQ
	q, err := queue.DialRabbit(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer q.Close()

	mailer := &channel.LogMailer{Log: log}

	log.Info().Str("queue", cfg.AMQPQueue).Msg("Worker running, waiting for messages...")
	err = q.Consume(ctx, cfg.AMQPQueue, cfg.WorkerMaxRetries, func(body []byte) error {
		return processMessage(ctx, body, mailer, log)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker stopped")
}

// processMessage delivers one queued message. Malformed payloads are dropped,
// since redelivering them cannot succeed.
func processMessage(ctx context.Context, body []byte, mailer channel.Mailer, log zerolog.Logger) error {
	msg, err := channel.DecodeMessage(body)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed message")
		return nil
	}
	return mailer.Deliver(ctx, msg)
}
