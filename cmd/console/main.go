package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flockadmin/console/cmd/console/cli"
	"github.com/flockadmin/console/internal/app"
	"github.com/flockadmin/console/internal/observability"
	"github.com/flockadmin/console/internal/platform/cache"
	"github.com/flockadmin/console/internal/platform/db"
	"github.com/flockadmin/console/internal/rbac"
	"github.com/flockadmin/console/internal/roles"
	"github.com/flockadmin/console/internal/users"
	"github.com/flockadmin/console/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Error("console", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		// Peers fall back to the cache TTL; the console itself keeps working.
		logger.Warn("redis unavailable, invalidation stays local", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	usersRepo := users.NewRepository(dbpool)
	perms, err := app.BuildPermissions(app.PermissionDeps{
		Config: cfg,
		Logger: logger,
		Store:  rbac.NewRepository(dbpool),
		Users:  usersRepo,
		Redis:  redisClient,
		Hook:   metrics.Permissions(),
	})
	if err != nil {
		return err
	}
	if err := perms.ListenForPeers(ctx); err != nil {
		logger.Warn("rbac peer invalidation disabled", slog.Any("error", err))
	}
	if cfg.RBACSeedOnStart {
		seeded, err := perms.Service.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("seed rbac defaults: %w", err)
		}
		if len(seeded) > 0 {
			logger.Info("seeded rbac defaults", slog.Int("roles", len(seeded)))
		}
	}

	usersService := users.NewService(usersRepo, perms.Service, perms.Resolver, logger)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(redisOpt(cfg))
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Identity:           users.IdentityMiddleware(usersRepo, logger),
		RolesHandler:       roles.NewHandler(logger, perms.Service, perms.Middleware),
		UsersHandler:       users.NewHandler(logger, usersService, perms.Middleware),
		PermissionsHandler: rbac.NewHandler(logger, perms.Resolver),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return nil
}

func runJobs(cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: console jobs <seed-rbac|invalidate-rbac|stats>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := cli.NewJobsCLI(redisOpt(cfg))
	defer func() { _ = c.Close() }()

	var out any
	if args[0] == "stats" {
		stats, err := c.InspectQueue()
		if err != nil {
			return err
		}
		out = stats
	} else {
		info, err := c.Trigger(ctx, args[0])
		if err != nil {
			return err
		}
		out = map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

func redisOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
