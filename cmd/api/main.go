package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/cache"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/config"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/query"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/server"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

func main() {
	// 1. Load config
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: "api",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("api service initializing", zap.String("env", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize PostgreSQL
	pgStore, err := store.New(ctx, store.Config{
		URI:             cfg.Postgres.URI,
		MinConns:        int32(cfg.Postgres.MinConns),
		MaxConns:        int32(cfg.Postgres.MaxConns),
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	}, l)
	if err != nil {
		l.Error("failed to connect to postgres", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	// 4. Initialize snapshot cache. The API only reads it; without Redis
	// there is nothing shared with the scraper process, so fall back to
	// the store alone.
	var snapCache cache.SnapshotCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		snapCache = cache.NewRedisCache(client, cfg.Redis.SnapshotKey)
		l.Info("using redis snapshot cache", zap.String("addr", cfg.Redis.Addr))
	}

	// 5. Create query service
	queries := query.New(l, pgStore, snapCache)

	// 6. Start API server
	apiServer := server.NewAPI(cfg.Server.Addr, l, queries, pgStore)

	errCh := make(chan error, 1)
	go func() {
		l.Info("api server starting", zap.String("addr", cfg.Server.Addr))
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			l.Error("api server failed", err)
		}
	case <-ctx.Done():
		l.Info("api service stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
}
