package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/ports"
	"github.com/samirrijal/towermap/internal/dataset"
)

// ImportResult is returned by the ImportDataset activity.
type ImportResult struct {
	Towers  int
	Skipped int
}

// DatasetActivities holds the activity implementations for the dataset
// refresh workflow.
type DatasetActivities struct {
	Writer    ports.TowerWriter
	Publisher ports.EventPublisher // optional
}

// ImportDataset loads a dataset file and replaces the stored towers with it.
func (a *DatasetActivities) ImportDataset(ctx context.Context, path string) (ImportResult, error) {
	res, err := dataset.Load(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("load dataset %s: %w", path, err)
	}
	if len(res.Towers) == 0 {
		return ImportResult{}, fmt.Errorf("dataset %s has no usable rows (%d skipped)", path, res.Skipped)
	}

	n, err := a.Writer.ReplaceAll(ctx, res.Towers)
	if err != nil {
		return ImportResult{}, fmt.Errorf("replace towers: %w", err)
	}
	slog.InfoContext(ctx, "dataset imported", "path", path, "towers", n, "skipped", res.Skipped)
	return ImportResult{Towers: n, Skipped: res.Skipped}, nil
}

// AnalyzeTable refreshes planner statistics after the import.
func (a *DatasetActivities) AnalyzeTable(ctx context.Context) error {
	return a.Writer.Analyze(ctx)
}

// PublishDatasetUpdated tells API instances to drop cached results and rerun
// their live viewports.
func (a *DatasetActivities) PublishDatasetUpdated(ctx context.Context, event domain.DatasetEvent) error {
	if a.Publisher == nil {
		slog.InfoContext(ctx, "no publisher configured, skipping dataset event", "towers", event.Towers)
		return nil
	}
	return a.Publisher.PublishDatasetUpdated(ctx, event)
}
