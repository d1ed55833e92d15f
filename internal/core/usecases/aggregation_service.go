package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/ports"
	"github.com/samirrijal/towermap/internal/pkg/geospatial"
	"github.com/samirrijal/towermap/internal/pkg/metrics"
	"github.com/samirrijal/towermap/internal/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/samirrijal/towermap/internal/core/usecases")

// CellFailurePolicy decides what a failing grid cell query does to its pass.
type CellFailurePolicy string

const (
	// FailOnCellError aborts the whole pass with a DataSourceError.
	FailOnCellError CellFailurePolicy = "fail"
	// EmptyOnCellError replaces the failing cell with a zero-count cluster.
	EmptyOnCellError CellFailurePolicy = "empty"
)

// AggregationOptions tunes the aggregation engine.
type AggregationOptions struct {
	MaxPointsInMemory    int
	GridLat              int
	GridLon              int
	IncludeEmptyClusters bool
	AlwaysCluster        bool
	CellFailurePolicy    CellFailurePolicy
	NativeGrid           bool
	MaxParallelQueries   int
	CacheTTLSeconds      int
}

// DefaultAggregationOptions mirrors the configuration defaults.
func DefaultAggregationOptions() AggregationOptions {
	return AggregationOptions{
		MaxPointsInMemory:  8000,
		GridLat:            8,
		GridLon:            8,
		CellFailurePolicy:  FailOnCellError,
		MaxParallelQueries: 16,
		CacheTTLSeconds:    30,
	}
}

// AggregationService decides between raw towers and a grid of clusters for
// a bounding box, and loads the towers behind a cluster.
type AggregationService struct {
	towers  ports.TowerRepository
	cache   ports.CacheService
	opts    AggregationOptions
	version atomic.Uint64
}

// NewAggregationService creates a new AggregationService. cache may be nil.
func NewAggregationService(towers ports.TowerRepository, cache ports.CacheService, opts AggregationOptions) *AggregationService {
	if opts.GridLat <= 0 {
		opts.GridLat = 8
	}
	if opts.GridLon <= 0 {
		opts.GridLon = 8
	}
	if opts.MaxParallelQueries <= 0 {
		opts.MaxParallelQueries = opts.GridLat * opts.GridLon
	}
	if opts.CellFailurePolicy == "" {
		opts.CellFailurePolicy = FailOnCellError
	}
	return &AggregationService{towers: towers, cache: cache, opts: opts}
}

// Options returns the effective options.
func (s *AggregationService) Options() AggregationOptions {
	return s.opts
}

// InvalidateDataset makes every cached result stale.
func (s *AggregationService) InvalidateDataset() {
	s.version.Add(1)
}

// Aggregate counts the towers in box and returns them directly when they fit
// in memory, or a grid of clusters otherwise. A cancelled ctx yields
// ctx.Err(); every data source failure is a *domain.DataSourceError.
func (s *AggregationService) Aggregate(ctx context.Context, box domain.BoundingBox) (domain.AggregationResult, error) {
	if err := box.Validate(); err != nil {
		return domain.AggregationResult{}, err
	}

	ctx, span := tracer.Start(ctx, "AggregationService.Aggregate",
		trace.WithAttributes(telemetry.BoundsAttributes(box)...))
	defer span.End()

	cacheKey := s.cacheKey("aggregate", box)
	if result, ok := s.cachedResult(ctx, cacheKey); ok {
		span.SetAttributes(telemetry.AttrCacheHit.Bool(true))
		return result, nil
	}

	start := time.Now()
	count, err := s.towers.CountInBounds(ctx, box)
	if err != nil {
		return domain.AggregationResult{}, s.fail(ctx, span, "count", err)
	}

	result := domain.AggregationResult{Bounds: box, Total: count}
	if count <= s.opts.MaxPointsInMemory && !s.opts.AlwaysCluster {
		towers, err := s.towers.InBounds(ctx, box)
		if err != nil {
			return domain.AggregationResult{}, s.fail(ctx, span, "in_bounds", err)
		}
		result.Mode = domain.ModePoints
		result.Towers = towers
	} else {
		clusters, err := s.aggregateGrid(ctx, box)
		if err != nil {
			return domain.AggregationResult{}, s.fail(ctx, span, "aggregate", err)
		}
		result.Mode = domain.ModeClusters
		result.Grid = domain.GridSize{Lat: s.opts.GridLat, Lon: s.opts.GridLon}
		result.Clusters = clusters
	}

	metrics.AggregationPasses.WithLabelValues(string(result.Mode)).Inc()
	metrics.AggregationDuration.WithLabelValues(string(result.Mode)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		telemetry.AttrMode.String(string(result.Mode)),
		telemetry.AttrTotal.Int(result.Total),
		telemetry.AttrClusters.Int(len(result.Clusters)),
	)

	s.storeResult(ctx, cacheKey, result)
	return result, nil
}

// aggregateGrid partitions box and aggregates every cell, either with one
// grouped query or with one concurrent query per cell. Cell i writes only
// slots[i]; the output is row-major whatever the completion order.
func (s *AggregationService) aggregateGrid(ctx context.Context, box domain.BoundingBox) ([]domain.Cluster, error) {
	cells := geospatial.Partition(box, s.opts.GridLat, s.opts.GridLon)
	slots := make([]domain.Cluster, len(cells))

	if grid, ok := s.towers.(ports.GridAggregator); ok && s.opts.NativeGrid {
		clusters, err := grid.AggregateGrid(ctx, box, s.opts.GridLat, s.opts.GridLon)
		if err != nil {
			return nil, err
		}
		for _, c := range clusters {
			if c.Row < 0 || c.Row >= s.opts.GridLat || c.Col < 0 || c.Col >= s.opts.GridLon {
				continue
			}
			slots[c.Row*s.opts.GridLon+c.Col] = c
		}
		for i, cell := range cells {
			slots[i] = withCell(slots[i], cell)
		}
		return s.merge(slots), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelQueries)
	for i, cell := range cells {
		g.Go(func() error {
			cctx, span := tracer.Start(gctx, "AggregationService.aggregateCell",
				trace.WithAttributes(attribute.Int("row", cell.Row), attribute.Int("col", cell.Col)))
			defer span.End()

			start := time.Now()
			c, err := s.towers.Aggregate(cctx, cell.Bounds)
			metrics.CellQueryDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				if s.opts.CellFailurePolicy != EmptyOnCellError || gctx.Err() != nil {
					return err
				}
				metrics.DataSourceErrors.WithLabelValues("aggregate_cell").Inc()
				slog.WarnContext(cctx, "cell aggregate failed, using empty cluster",
					"row", cell.Row, "col", cell.Col, "error", err)
				c = domain.Cluster{}
			}
			slots[i] = withCell(c, cell)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.merge(slots), nil
}

// withCell pins a cluster to its grid cell. Bounds is the cell rather than
// the observed extent so drilling in recounts exactly the cell's towers.
func withCell(c domain.Cluster, cell geospatial.GridCell) domain.Cluster {
	c.Row = cell.Row
	c.Col = cell.Col
	c.Bounds = cell.Bounds
	if c.Count == 0 {
		c.Centroid = domain.GeoPoint{}
		c.Extent = domain.BoundingBox{}
		c.RepresentativeID = 0
	}
	return c
}

func (s *AggregationService) merge(slots []domain.Cluster) []domain.Cluster {
	out := make([]domain.Cluster, 0, len(slots))
	for _, c := range slots {
		if c.Empty() && !s.opts.IncludeEmptyClusters {
			continue
		}
		out = append(out, c)
	}
	return out
}

// LoadPointsInCluster loads the towers behind a cluster. When the cluster
// holds more towers than fit in memory the result has TooManyPoints set and
// no towers; the client should zoom in instead.
func (s *AggregationService) LoadPointsInCluster(ctx context.Context, cluster domain.Cluster) (domain.DrillDown, error) {
	return s.LoadPointsInBounds(ctx, cluster.Bounds)
}

// LoadPointsInBounds is LoadPointsInCluster for an arbitrary box.
func (s *AggregationService) LoadPointsInBounds(ctx context.Context, box domain.BoundingBox) (domain.DrillDown, error) {
	if err := box.Validate(); err != nil {
		return domain.DrillDown{}, err
	}

	ctx, span := tracer.Start(ctx, "AggregationService.LoadPointsInBounds",
		trace.WithAttributes(telemetry.BoundsAttributes(box)...))
	defer span.End()

	count, err := s.towers.CountInBounds(ctx, box)
	if err != nil {
		return domain.DrillDown{}, s.fail(ctx, span, "count", err)
	}
	if count > s.opts.MaxPointsInMemory {
		metrics.TooManyPoints.Inc()
		return domain.DrillDown{Count: count, TooManyPoints: true}, nil
	}

	towers, err := s.towers.InBounds(ctx, box)
	if err != nil {
		return domain.DrillDown{}, s.fail(ctx, span, "in_bounds", err)
	}
	return domain.DrillDown{Count: count, Towers: towers}, nil
}

// Count returns the number of towers in box.
func (s *AggregationService) Count(ctx context.Context, box domain.BoundingBox) (int, error) {
	if err := box.Validate(); err != nil {
		return 0, err
	}

	cacheKey := s.cacheKey("count", box)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var n int
			if err := json.Unmarshal(data, &n); err == nil {
				metrics.CacheHits.WithLabelValues("count").Inc()
				return n, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("count").Inc()
	}

	n, err := s.towers.CountInBounds(ctx, box)
	if err != nil {
		return 0, domain.NewDataSourceError("count", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(n); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.opts.CacheTTLSeconds)
		}
	}
	return n, nil
}

// GetTower returns a single tower.
func (s *AggregationService) GetTower(ctx context.Context, id int64) (*domain.Tower, error) {
	t, err := s.towers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.NewDataSourceError("get_by_id", err)
	}
	return t, nil
}

// FindNearby returns towers within radiusMeters of a point, nearest first.
func (s *AggregationService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Tower, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: point %.6f,%.6f out of range", domain.ErrInvalidBounds, lat, lon)
	}

	towers, err := s.towers.FindNearby(ctx, lat, lon, radiusMeters, limit)
	if err != nil {
		return nil, domain.NewDataSourceError("find_nearby", err)
	}
	return towers, nil
}

// Stats summarises the loaded dataset.
func (s *AggregationService) Stats(ctx context.Context) (*domain.DatasetStats, error) {
	stats, err := s.towers.Stats(ctx)
	if err != nil {
		return nil, domain.NewDataSourceError("stats", err)
	}
	return stats, nil
}

// fail classifies err: cancellation of ctx is passed through untouched so
// callers can drop superseded passes, anything else becomes a
// DataSourceError.
func (s *AggregationService) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if ctx.Err() != nil {
		metrics.AggregationsCancelled.Inc()
		span.SetStatus(codes.Unset, "cancelled")
		return ctx.Err()
	}
	metrics.DataSourceErrors.WithLabelValues(op).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return domain.NewDataSourceError(op, err)
}

// cacheKey identifies a result by the exact box, including its open edges,
// and by every option that shapes the result.
func (s *AggregationService) cacheKey(op string, box domain.BoundingBox) string {
	return fmt.Sprintf("towers:%s:v%d:%v,%v,%v,%v:open=%t,%t:%dx%d:%d:%t:%t:%t:%s",
		op, s.version.Load(),
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, box.OpenMaxLat, box.OpenMaxLon,
		s.opts.GridLat, s.opts.GridLon, s.opts.MaxPointsInMemory,
		s.opts.AlwaysCluster, s.opts.IncludeEmptyClusters, s.opts.NativeGrid, s.opts.CellFailurePolicy)
}

func (s *AggregationService) cachedResult(ctx context.Context, key string) (domain.AggregationResult, bool) {
	if s.cache == nil {
		return domain.AggregationResult{}, false
	}
	data, err := s.cache.Get(ctx, key)
	if err == nil {
		var result domain.AggregationResult
		if err := json.Unmarshal(data, &result); err == nil {
			metrics.CacheHits.WithLabelValues("aggregate").Inc()
			return result, true
		}
	}
	metrics.CacheMisses.WithLabelValues("aggregate").Inc()
	return domain.AggregationResult{}, false
}

func (s *AggregationService) storeResult(ctx context.Context, key string, result domain.AggregationResult) {
	if s.cache == nil || s.opts.CacheTTLSeconds <= 0 {
		return
	}
	if data, err := json.Marshal(result); err == nil {
		_ = s.cache.Set(ctx, key, data, s.opts.CacheTTLSeconds)
	}
}
