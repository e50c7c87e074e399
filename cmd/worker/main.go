package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/flockadmin/console/internal/app"
	jobmetrics "github.com/flockadmin/console/internal/jobs"
	"github.com/flockadmin/console/internal/platform/cache"
	"github.com/flockadmin/console/internal/platform/db"
	"github.com/flockadmin/console/internal/rbac"
	"github.com/flockadmin/console/internal/users"
	"github.com/flockadmin/console/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// The worker resolves nothing itself; its invalidations only matter to
	// the console instances listening on Redis.
	perms, err := app.BuildPermissions(app.PermissionDeps{
		Config: cfg,
		Logger: logger,
		Store:  rbac.NewRepository(pool),
		Users:  users.NewRepository(pool),
		Redis:  redisClient,
	})
	if err != nil {
		logger.Error("init permissions", slog.Any("error", err))
		os.Exit(1)
	}

	rbacJob := jobs.NewRBACJob(perms.Service, logger, jobmetrics.NewMetrics(nil))
	seedTask, err := jobs.NewSeedDefaultsTask("schedule")
	if err != nil {
		logger.Error("build seed task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  rbacJob.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: seedTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
