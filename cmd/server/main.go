// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/controller"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/handler"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/logging"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/service"
)

func main() {
	cfg, envFileFound, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if !envFileFound {
		log.Info().Msg("⚠️ No .env file found, relying on OS environment variables")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.SchedulerSecret == "" {
		log.Warn().Msg("⚠️ SCHEDULER_SECRET is empty; every trigger will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer deps.Close()

	runner := &service.CampaignRunner{
		Leases:      &repository.LeaseRepository{Store: deps.store, Log: log},
		Checkpoints: deps.checkpoints,
		Recipients:  deps.recipients,
		Dispatcher: &service.Dispatcher{
			Channel:  deps.channel,
			Renderer: service.NewPlanRenderer(),
			Log:      log,
		},
		Events: deps.events,
		Config: service.RunnerConfig{
			BatchSize:        cfg.BatchSize,
			RatePerSecond:    cfg.RatePerSecond,
			LeaseTTL:         cfg.LeaseTTL,
			InvocationBudget: cfg.InvocationBudget,
			MaxBatchesPerRun: cfg.MaxBatchesPerRun,
		},
		Log: log,
	}

	trigger := &controller.TriggerController{
		Runner: runner,
		Budget: cfg.InvocationBudget,
		Log:    log,
	}
	campaignHandler := &handler.CampaignHandler{
		Service: &service.CampaignService{Checkpoints: deps.checkpoints},
		Log:     log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           controller.NewRouter(trigger, campaignHandler, cfg.SchedulerSecret, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Str("channel", cfg.Channel).Msg("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InvocationBudget)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	log.Info().Msg("server stopped")
}
