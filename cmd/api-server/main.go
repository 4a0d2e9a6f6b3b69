package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/mail-dispatch/internal/api"
	"github.com/sungwon/mail-dispatch/internal/auth"
	"github.com/sungwon/mail-dispatch/internal/bootstrap"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/queue"
)

const defaultSigningKey = "dev-signing-key-change-me-in-production!!"

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Service:   "api-server",
	})
	log.Info().Msg("starting API server")

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	if cfg.Auth.SigningKey == defaultSigningKey {
		log.Warn().Msg("JWT signing key is using the default value; set MAIL_DISPATCH_AUTH_SIGNING_KEY in production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey:  cfg.Auth.SigningKey,
		TokenExpiry: cfg.Auth.TokenExpiry,
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
	})

	// The quota needs Redis; with the in-memory queue it stays disabled.
	quota := auth.NewSendLimiter(app.Redis, cfg.Auth.MonthlySendLimit, cfg.Queue.Prefix)
	if cfg.Auth.MonthlySendLimit > 0 && app.Redis == nil {
		log.Warn().Msg("monthly send limit configured but queue is not Redis-backed; limit disabled")
	}

	// An in-memory queue is only visible to this process, so deliver here.
	var embedded *queue.Worker
	if cfg.Queue.Type == "memory" {
		embedded = app.NewWorker()
		if err := embedded.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded worker")
		}
		log.Info().Int("workers", cfg.Queue.WorkerCount).Msg("embedded queue worker started")
	}

	router := api.NewRouter(api.RouterConfig{
		Store:      app.Store,
		Dispatcher: app.Dispatch,
		JWTService: jwtService,
		Quota:      quota,
		Checks:     app.ReadinessChecks(),
		Log:        log,
	})

	// Configure HTTP server
	addr := cfg.API.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if embedded != nil {
		if err := embedded.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("embedded worker did not stop cleanly")
		}
	}
	if err := app.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to release resources")
	}

	log.Info().Msg("server stopped")
}
