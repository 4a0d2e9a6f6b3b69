// Package bootstrap assembles the dispatch components from configuration.
// Both the API server and the queue worker start from an App.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/api"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/msgstore"
	"github.com/sungwon/mail-dispatch/internal/queue"
	"github.com/sungwon/mail-dispatch/internal/storage"
	"github.com/sungwon/mail-dispatch/internal/telemetry"
	"github.com/sungwon/mail-dispatch/internal/transport"
	"github.com/sungwon/mail-dispatch/internal/worker"
)

const poolStatsInterval = 15 * time.Second

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *storage.DB
	Redis     *redis.Client // nil unless the queue is Redis-backed
	Queue     queue.Queue
	Store     *storage.Store
	Transport transport.Transport
	Health    *transport.HealthChecker
	Dispatch  *dispatch.Orchestrator

	shutdownTracing telemetry.ShutdownFunc
	stop            chan struct{}
	wg              sync.WaitGroup
}

// New connects to every backing service and builds the orchestrator. On
// error, whatever was already opened is closed again.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (app *App, err error) {
	a := &App{Config: cfg, Log: log, stop: make(chan struct{})}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.shutdownTracing, err = telemetry.Init(ctx, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.DB, err = storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("database connection established")

	a.Queue, a.Redis, err = newQueue(cfg.Queue)
	if err != nil {
		return nil, err
	}
	if err := a.Queue.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to queue: %w", err)
	}
	log.Info().Str("type", cfg.Queue.Type).Msg("queue connection established")

	content, err := msgstore.New(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("create content store: %w", err)
	}
	a.Store = storage.NewStore(storage.New(a.DB.Pool), content, log)

	a.Transport, err = transport.New(cfg.Transport, log)
	if err != nil {
		return nil, err
	}
	a.Health = transport.NewHealthChecker(a.Transport)
	a.Health.Start()

	a.Dispatch = dispatch.New(a.Queue, a.Store, a.Transport, log, dispatch.WithConfig(cfg.Dispatch))

	a.wg.Add(1)
	go a.recordPoolStats()

	return a, nil
}

// newQueue builds the configured queue backend. The Redis client is returned
// so other components can share the connection.
func newQueue(cfg queue.Config) (queue.Queue, *redis.Client, error) {
	switch cfg.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return queue.NewRedisQueue(client, cfg), client, nil
	default:
		q, err := queue.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return q, nil, nil
	}
}

func (a *App) recordPoolStats() {
	defer a.wg.Done()
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		a.DB.RecordPoolStats()
		select {
		case <-a.stop:
			return
		case <-ticker.C:
		}
	}
}

// ReadinessChecks returns the checks served by /readyz.
func (a *App) ReadinessChecks() []api.ReadinessCheck {
	return []api.ReadinessCheck{
		{Name: "database", Check: a.DB.Ping},
		{Name: "queue", Check: a.Queue.Ping},
		{Name: "transport", Check: a.Health.Check},
	}
}

// NewWorker creates a queue consumer that delivers through the orchestrator.
func (a *App) NewWorker() *queue.Worker {
	h := worker.NewHandler(a.Dispatch, a.Config.Worker.MarkProcessing, a.Log)
	return queue.NewWorker(a.Queue, h, h, queue.NewRetryStrategy(), a.Config.Queue, a.Log)
}

// Close drains background work and releases every connection. It is safe to
// call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	close(a.stop)
	a.wg.Wait()

	if a.Dispatch != nil {
		if err := a.Dispatch.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain dispatch tasks: %w", err))
		}
	}
	if a.Health != nil {
		a.Health.Stop()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	} else if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
