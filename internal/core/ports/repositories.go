package ports

import (
	"context"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// TowerRepository is the point data source. Every bounds query honours
// domain.BoundingBox.Contains, including antimeridian crossing and the
// exclusive edges of interior grid cells. Implementations must be safe for
// concurrent use.
type TowerRepository interface {
	CountInBounds(ctx context.Context, box domain.BoundingBox) (int, error)
	InBounds(ctx context.Context, box domain.BoundingBox) ([]domain.Tower, error)
	// Aggregate summarises the towers in box. Bounds and grid position of the
	// returned cluster are left for the caller to fill in.
	Aggregate(ctx context.Context, box domain.BoundingBox) (domain.Cluster, error)
	GetByID(ctx context.Context, id int64) (*domain.Tower, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Tower, error)
	Stats(ctx context.Context) (*domain.DatasetStats, error)
}

// GridAggregator is implemented by data sources that can aggregate a whole
// grid in one grouped query. Clusters come back with Row and Col set; cells
// without towers may be absent.
type GridAggregator interface {
	AggregateGrid(ctx context.Context, box domain.BoundingBox, gridLat, gridLon int) ([]domain.Cluster, error)
}

// TowerWriter bulk-loads a static dataset.
type TowerWriter interface {
	ReplaceAll(ctx context.Context, towers []domain.Tower) (int, error)
	Analyze(ctx context.Context) error
}
