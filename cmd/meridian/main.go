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
	"github.com/meridian-gw/meridian-gw/internal/gateway"
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/observability"
	"github.com/meridian-gw/meridian-gw/internal/platform/cache"
	"github.com/meridian-gw/meridian-gw/internal/platform/db"
	"github.com/meridian-gw/meridian-gw/internal/routecache"
	"github.com/meridian-gw/meridian-gw/internal/session"
	"github.com/meridian-gw/meridian-gw/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Warn("PG_DSN not set, durable sessions will not survive restarts")
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
	routes := routecache.New(cfg.RouteCacheCapacity, cfg.CacheableRouteList())
	metrics := observability.NewMetrics()
	idp := identity.NewClient(cfg.IdPBaseURL, http.DefaultClient, logger)

	svc := authority.NewService(logger, idp, store, routes, authority.LogNotifier{Logger: logger})

	upstream := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &identity.AuthTransport{
			Tokens: svc,
			OnUnauthorized: func(ctx context.Context) {
				svc.ForceLogout(ctx, identity.ErrUpstreamUnauthorized)
			},
		},
	}

	if svc.InitializeFromPersistence(ctx) {
		metrics.ObserveRehydration()
		logger.Info("session rehydrated from persistence")
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	gw := gateway.NewHandler(logger, svc, routes, metrics, upstream, cfg.UpstreamBaseURL)

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Gateway:    gw,
		JobHandler: jobHandler,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
