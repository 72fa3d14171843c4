package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/channel"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/db"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/events"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/queue"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/seed"
)

type dependencies struct {
	store       docstore.Store
	checkpoints *repository.CheckpointRepository
	recipients  repository.RecipientSource
	channel     channel.Channel
	events      events.Publisher
	closers     []func() error
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *dependencies, err error) {
	d := &dependencies{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()
	conns := map[string]*sql.DB{}

	openSQL := func(driver string) (*sql.DB, error) {
		if conn, ok := conns[driver]; ok {
			return conn, nil
		}
		dsn := cfg.SQLitePath
		if driver == "postgres" {
			dsn = cfg.PostgresURL()
		}
		conn, err := db.Open(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", driver).Msg("✅ Connected to database")
		conns[driver] = conn
		d.closers = append(d.closers, conn.Close)
		return conn, nil
	}

	switch cfg.StoreDriver {
	case "postgres", "sqlite":
		conn, err := openSQL(cfg.StoreDriver)
		if err != nil {
			return nil, err
		}
		d.store = docstore.NewSQLStore(conn, docstore.Dialect(cfg.StoreDriver))
	case "redis":
		client, err := docstore.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		store := docstore.NewRedisStore(client, cfg.RedisPrefix)
		d.store = store
		d.closers = append(d.closers, store.Close)
	default:
		d.store = docstore.NewMemoryStore()
	}
	d.checkpoints = &repository.CheckpointRepository{Store: d.store, Log: log}

	switch cfg.RecipientSource {
	case "postgres", "sqlite":
		conn, err := openSQL(cfg.RecipientSource)
		if err != nil {
			return nil, err
		}
		d.recipients = &repository.RecipientRepository{DB: conn, Dialect: docstore.Dialect(cfg.RecipientSource)}
	default:
		fixture, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		src := repository.NewMemoryRecipientSource()
		if err := fixture.LoadInto(src); err != nil {
			return nil, err
		}
		d.recipients = src
		log.Info().Str("file", cfg.SeedFile).Int("recipients", len(fixture.Recipients)).Msg("loaded recipient fixture")
	}

	var publisher queue.Publisher
	switch cfg.Channel {
	case "amqp":
		rq, err := queue.DialRabbit(cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rq.Close)
		publisher = rq
	default:
		q := queue.NewInMemoryQueue(log, cfg.WorkerMaxRetries)
		if err := channel.StartDeliverySubscriber(q, cfg.AMQPQueue, &channel.LogMailer{Log: log}, log); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { q.Drain(); return nil })
		publisher = q
	}
	d.channel = &channel.QueueChannel{
		Publisher:   publisher,
		Topic:       cfg.AMQPQueue,
		MaxInFlight: cfg.RatePerSecond,
		Log:         log,
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		d.events = kp
		d.closers = append(d.closers, kp.Close)
	} else {
		d.events = &events.LogPublisher{Log: log}
	}

	return d, nil
}
