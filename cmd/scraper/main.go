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

	"github.com/RPBTwisted/RuneScape-Player-Count/internal/scraper"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/cache"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/config"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/ingest"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/scrape"
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
		ServiceName: "scraper",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("scraper service initializing", zap.String("env", cfg.Environment))

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

	if err := pgStore.EnsureSchema(ctx); err != nil {
		l.Error("failed to ensure schema", err)
		os.Exit(1)
	}

	// 4. Initialize snapshot cache
	var snapCache cache.SnapshotCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		snapCache = cache.NewRedisCache(client, cfg.Redis.SnapshotKey)
		l.Info("using redis snapshot cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		snapCache = cache.NewMemoryCache()
		l.Info("using in-memory snapshot cache")
	}

	// 5. Initialize ingest pool
	pool := ingest.NewPool(
		l,
		pgStore,
		cfg.Ingest.WorkerCount,
		cfg.Ingest.SpoolCapacity,
		cfg.Ingest.FlushInterval,
	)
	pool.Start(ctx)

	// 6. Initialize scrape client
	fetcher := scrape.NewClient(scrape.Config{
		PlayerCountURL: cfg.Scrape.PlayerCountURL,
		WorldsURL:      cfg.Scrape.WorldsURL,
		Timeout:        cfg.Scrape.RequestTimeout,
		UserAgent:      cfg.Scrape.UserAgent,
	})

	// 7. Create service
	svc := scraper.NewService(l, fetcher, pool, snapCache, cfg.Scrape.Interval)

	// 8. Start observability server
	obsServer := server.New(cfg.Server.ObsAddr, l)
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 9. Start service
	l.Info("scraper service starting")
	if err := svc.Start(ctx); err != nil {
		if err == context.Canceled {
			l.Info("scraper service stopping")
		} else {
			l.Error("scraper service failed", err)
		}
	}

	// Flush spooled runs and clean up
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		l.Error("ingest pool shutdown failed", err)
	}
	obsServer.Shutdown(shutdownCtx)
}
