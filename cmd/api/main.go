package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/towermap/internal/adapters/http"
	"github.com/samirrijal/towermap/internal/adapters/memory"
	natsadapter "github.com/samirrijal/towermap/internal/adapters/nats"
	"github.com/samirrijal/towermap/internal/adapters/postgres"
	"github.com/samirrijal/towermap/internal/adapters/valkey"
	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/ports"
	"github.com/samirrijal/towermap/internal/core/usecases"
	"github.com/samirrijal/towermap/internal/dataset"
	"github.com/samirrijal/towermap/internal/pkg/config"
	"github.com/samirrijal/towermap/internal/pkg/logging"
	"github.com/samirrijal/towermap/internal/pkg/metrics"
	"github.com/samirrijal/towermap/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("towermap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup("towermap-api", "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deps := &http.Dependencies{BufferFraction: cfg.Aggregation.BufferFraction}

	// Tower store
	var (
		towers ports.TowerRepository
		store  *memory.TowerStore
	)
	switch cfg.Store.Backend {
	case "memory":
		var skipped int
		store, skipped, err = memory.Open(cfg.Store.DatasetPath)
		if err != nil {
			log.Fatalf("dataset: %v", err)
		}
		slog.Info("in-memory tower store loaded", "path", cfg.Store.DatasetPath, "skipped", skipped)
		towers = store
	default:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		deps.DB = db
		towers = postgres.NewTowerRepo(db)

		go reportPoolStats(ctx, db)
	}

	// Cache
	var cache ports.CacheService
	vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.KeyPrefix)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vc.Close()
		cache = vc
		deps.Cache = vc
	}

	// Use cases
	aggregation := usecases.NewAggregationService(towers, cache, usecases.AggregationOptions{
		MaxPointsInMemory:    cfg.Aggregation.MaxPointsInMemory,
		GridLat:              cfg.Aggregation.GridLat,
		GridLon:              cfg.Aggregation.GridLon,
		IncludeEmptyClusters: cfg.Aggregation.IncludeEmptyClusters,
		AlwaysCluster:        cfg.Aggregation.AlwaysCluster,
		CellFailurePolicy:    usecases.CellFailurePolicy(cfg.Aggregation.CellFailurePolicy),
		NativeGrid:           cfg.Aggregation.NativeGrid,
		MaxParallelQueries:   cfg.Aggregation.MaxParallelQueries,
		CacheTTLSeconds:      cfg.Aggregation.CacheTTLSeconds,
	})
	sessions := usecases.NewSessionHub(aggregation, cfg.Aggregation.KeepAlive)
	defer sessions.Shutdown()

	deps.Aggregation = aggregation
	deps.Sessions = sessions

	// NATS: dataset reloads
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, dataset updates will not be picked up", "error", err)
	} else {
		defer sub.Close()
		deps.NATS = sub

		handler := sessions.HandleDatasetUpdated
		if store != nil {
			handler = reloadThen(store, cfg.Store.DatasetPath, handler)
		}
		if err := sub.SubscribeDatasetUpdated(ctx, handler); err != nil {
			slog.Warn("subscribe dataset updates failed", "error", err)
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "TowerMap API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "backend", cfg.Store.Backend)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// reloadThen re-reads the dataset file into the in-memory store before
// passing the event on.
func reloadThen(store *memory.TowerStore, path string, next func(context.Context, domain.DatasetEvent) error) func(context.Context, domain.DatasetEvent) error {
	return func(ctx context.Context, ev domain.DatasetEvent) error {
		res, err := dataset.Load(path)
		if err != nil {
			return fmt.Errorf("reload dataset: %w", err)
		}
		if _, err := store.ReplaceAll(ctx, res.Towers); err != nil {
			return err
		}
		return next(ctx, ev)
	}
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		case <-ctx.Done():
			return
		}
	}
}
