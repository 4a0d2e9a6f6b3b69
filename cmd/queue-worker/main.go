package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/mail-dispatch/internal/bootstrap"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/logger"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Service:   "queue-worker",
	})
	log.Info().Msg("starting queue worker")

	if cfg.Queue.Type == "memory" {
		log.Warn().Msg("in-memory queue only sees jobs added by this process; run the API server alone instead")
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	w := app.NewWorker()
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	log.Info().
		Int("workers", cfg.Queue.WorkerCount).
		Str("queue", cfg.Queue.Type).
		Str("transport", app.Transport.Name()).
		Bool("propagate_send_errors", cfg.Dispatch.PropagateSendErrors).
		Msg("queue worker started")

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("shutting down queue worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()

	if err := w.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker did not stop cleanly")
	}
	if err := app.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to release resources")
	}

	log.Info().Msg("queue worker stopped")
}
