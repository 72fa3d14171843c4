// cmd/scheduler stands in for the external scheduler: it fires the weekly plan
// trigger on a cron schedule. It keeps no campaign state of its own.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/controller"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/logging"
)

func main() {
	cfg, _, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SecondOptional allows both 5-field and 6-field (with seconds) specs
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))

	client := &http.Client{Timeout: cfg.InvocationBudget + 10*time.Second}
	_, err = c.AddFunc(cfg.TriggerCron, func() {
		fire(ctx, client, cfg.TriggerURL, cfg.SchedulerSecret, log)
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.TriggerCron).Msg("invalid cron schedule")
	}

	c.Start()
	log.Info().Str("schedule", cfg.TriggerCron).Str("url", cfg.TriggerURL).Msg("scheduler running")
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// fire invokes the trigger once. Overlapping invocations are allowed; the
// server's lease decides which one proceeds.
func fire(ctx context.Context, client *http.Client, url, secret string, log zerolog.Logger) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("build trigger request")
		return
	}
	req.Header.Set(controller.SecretHeader, secret)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("trigger request failed")
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Info().Int("status", resp.StatusCode).Dur("took", time.Since(start)).RawJSON("response", jsonOrNull(body)).Msg("trigger fired")
}

func jsonOrNull(b []byte) []byte {
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return []byte("null")
	}
	return b
}
