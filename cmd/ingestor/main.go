// Command ingestor bulk-loads a static tower dataset (CSV, CSV.zst or XLSX)
// into Postgres and announces the new dataset on NATS.
//
//	ingestor [-source name] [-workflow] <file>
//
// With -workflow the load runs as a DatasetRefreshWorkflow on the refresher
// worker instead of in-process; the file must then be readable by the worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/client"

	natsadapter "github.com/samirrijal/towermap/internal/adapters/nats"
	"github.com/samirrijal/towermap/internal/adapters/postgres"
	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/pkg/config"
	"github.com/samirrijal/towermap/internal/pkg/logging"
	"github.com/samirrijal/towermap/internal/workflows"
)

func main() {
	source := flag.String("source", "", "dataset name reported in the update event (default: file name)")
	viaWorkflow := flag.Bool("workflow", false, "run the load as a Temporal workflow")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingestor [-source name] [-workflow] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	if *source == "" {
		*source = filepath.Base(path)
	}

	cfg, err := config.Load("towermap-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("towermap-ingestor", "text")

	ctx := context.Background()

	if *viaWorkflow {
		if err := startWorkflow(ctx, cfg, path, *source); err != nil {
			log.Fatalf("workflow: %v", err)
		}
		return
	}

	start := time.Now()
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	acts := &workflows.DatasetActivities{Writer: postgres.NewTowerRepo(db)}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, API instances will not be notified", "error", err)
	} else {
		defer pub.Close()
		acts.Publisher = pub
	}

	res, err := acts.ImportDataset(ctx, path)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	if err := acts.AnalyzeTable(ctx); err != nil {
		slog.Warn("analyze failed", "error", err)
	}
	event := domain.DatasetEvent{Source: *source, Towers: res.Towers, At: time.Now().Unix()}
	if err := acts.PublishDatasetUpdated(ctx, event); err != nil {
		slog.Error("publish dataset event", "error", err)
	}

	slog.Info("ingestion complete",
		"towers", res.Towers,
		"skipped", res.Skipped,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
}

func startWorkflow(ctx context.Context, cfg *config.Config, path, source string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "dataset-refresh-" + source,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.DatasetRefreshWorkflow, workflows.DatasetRefreshInput{Path: abs, Source: source})
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("dataset refresh started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var res workflows.ImportResult
	if err := run.Get(ctx, &res); err != nil {
		return err
	}
	slog.Info("dataset refresh complete", "towers", res.Towers, "skipped", res.Skipped)
	return nil
}
