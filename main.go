package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fund_sheet_sync/internal/app"
	"fund_sheet_sync/internal/notifications"
	"fund_sheet_sync/internal/scheduler"
	"fund_sheet_sync/internal/store"
	"fund_sheet_sync/internal/syncer"

	"github.com/rs/zerolog/log"
)

func main() {
	log.Debug().Msg("Starting application")
	app.SetupEnvironment()

	ctx := context.Background()
	credsClient, sheetsClient := app.InitializeClients()

	pool, err := store.Connect(ctx, app.GetRequiredEnv("DATABASE_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	conns := store.NewConnectionStore(pool)
	kpis := store.NewKpiStore(pool)
	notifier := initializeNotifier()

	executor := syncer.NewExecutor(sheetsClient, credsClient, conns, kpis)
	worker := scheduler.NewWorker(conns, executor, notifier, app.TickInterval())

	log.Info().Msg("Starting KPI sync scheduler. Running immediately and then on every tick...")
	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	worker.Stop()
}

func initializeNotifier() *notifications.Client {
	enabled := app.GetEnvWithDefault("NTFY_ENABLED", "false") == "true"
	baseURL := app.GetEnvWithDefault("NTFY_URL", "https://ntfy.sh")
	topic := app.GetEnvWithDefault("NTFY_TOPIC", "fund-sheet-sync")

	client := notifications.NewClient(baseURL, topic, enabled)
	if enabled {
		log.Info().Str("topic", topic).Msg("Sync failure notifications enabled")
	} else {
		log.Debug().Msg("Sync failure notifications disabled")
	}
	return client
}
