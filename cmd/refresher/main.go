package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/towermap/internal/adapters/nats"
	"github.com/samirrijal/towermap/internal/adapters/postgres"
	"github.com/samirrijal/towermap/internal/pkg/config"
	"github.com/samirrijal/towermap/internal/pkg/logging"
	"github.com/samirrijal/towermap/internal/workflows"
)

func main() {
	cfg, err := config.Load("towermap-refresher")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Setup("towermap-refresher", "json")

	db, err := postgres.New(context.Background(), cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	acts := &workflows.DatasetActivities{Writer: postgres.NewTowerRepo(db)}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, dataset events will be skipped", "error", err)
	} else {
		defer pub.Close()
		acts.Publisher = pub
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.DatasetRefreshWorkflow)
	w.RegisterActivity(acts)

	slog.Info("refresher worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
