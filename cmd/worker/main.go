package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-gw/meridian-gw/internal/app"
	"github.com/meridian-gw/meridian-gw/internal/authority"
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/platform/cache"
	"github.com/meridian-gw/meridian-gw/internal/platform/db"
	"github.com/meridian-gw/meridian-gw/internal/session"
	"github.com/meridian-gw/meridian-gw/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	var durable session.Backend
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		backend := session.NewPostgresBackend(pool)
		if err := backend.EnsureSchema(ctx); err != nil {
			logger.Error("ensure session schema", slog.Any("error", err))
			os.Exit(1)
		}
		durable = backend
	} else {
		logger.Warn("PG_DSN not set, revalidation only covers transient sessions")
		durable = session.NewMemoryBackend()
	}

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := session.NewStore(durable, session.NewRedisBackend(redisClient, cfg.SessionTTL), logger)
	idp := identity.NewClient(cfg.IdPBaseURL, http.DefaultClient, logger)
	svc := authority.NewService(logger, idp, store, nil, authority.LogNotifier{Logger: logger})

	revalidateTask, err := jobs.NewRevalidateSessionTask(time.Now().UTC())
	if err != nil {
		logger.Error("build revalidate task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRevalidateSession, Handler: jobs.NewRevalidateSessionHandler(svc, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RevalidateCron, Task: revalidateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
