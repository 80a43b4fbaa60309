package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/tenantkit/internal/api"
	"github.com/nikhilbhutani/tenantkit/internal/cache"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/queue"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, token revocation will fail until it recovers", "error", err)
	}
	defer rdb.Close()

	jobs := queue.NewClient(cfg.Redis, cfg.Queue)
	defer jobs.Close()
	inspector := asynq.NewInspector(queue.RedisOpt(cfg.Redis))
	defer inspector.Close()

	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Store:     store.NewPostgres(db),
		Cache:     cache.NewCache(rdb, "tenantkit:"),
		Mailer:    jobs,
		Jobs:      jobs,
		JobStatus: queue.NewStatusReader(inspector),
	})
	handler := router.Setup()

	stop := make(chan struct{})
	go router.Limiter().Run(stop)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	close(stop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
