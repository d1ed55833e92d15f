package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// DatasetRefreshInput is the input for the dataset refresh workflow.
type DatasetRefreshInput struct {
	Path   string
	Source string // reported in the dataset event; defaults to Path
}

// DatasetRefreshWorkflow imports a dataset file, refreshes table statistics
// and announces the new dataset. A failed ANALYZE only degrades query plans,
// so the workflow carries on without it.
func DatasetRefreshWorkflow(ctx workflow.Context, input DatasetRefreshInput) (ImportResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting dataset refresh", "path", input.Path)

	importCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var result ImportResult
	if err := workflow.ExecuteActivity(importCtx, "ImportDataset", input.Path).Get(ctx, &result); err != nil {
		return ImportResult{}, err
	}

	if err := workflow.ExecuteActivity(ctx, "AnalyzeTable").Get(ctx, nil); err != nil {
		logger.Warn("analyze failed, continuing", "error", err)
	}

	source := input.Source
	if source == "" {
		source = input.Path
	}
	event := domain.DatasetEvent{
		Source: source,
		Towers: result.Towers,
		At:     workflow.Now(ctx).Unix(),
	}
	if err := workflow.ExecuteActivity(ctx, "PublishDatasetUpdated", event).Get(ctx, nil); err != nil {
		return result, err
	}

	logger.Info("Dataset refresh complete", "towers", result.Towers, "skipped", result.Skipped)
	return result, nil
}
