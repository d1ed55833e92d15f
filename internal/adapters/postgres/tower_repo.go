package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/pkg/geospatial"
)

const towerColumns = `id, lat, lon, mcc, mnc, lac, cell_id, psc, rat`

// TowerRepo implements ports.TowerRepository, ports.GridAggregator and
// ports.TowerWriter with pgx.
type TowerRepo struct {
	db *DB
}

// NewTowerRepo creates a new TowerRepo.
func NewTowerRepo(db *DB) *TowerRepo {
	return &TowerRepo{db: db}
}

// CountInBounds counts the towers inside box.
func (r *TowerRepo) CountInBounds(ctx context.Context, box domain.BoundingBox) (int, error) {
	where, args := boundsPredicate(box, 1)
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM cell_towers WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count towers: %w", err)
	}
	return n, nil
}

// InBounds returns the towers inside box ordered by id.
func (r *TowerRepo) InBounds(ctx context.Context, box domain.BoundingBox) ([]domain.Tower, error) {
	where, args := boundsPredicate(box, 1)
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+towerColumns+`
		FROM cell_towers
		WHERE `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("towers in bounds: %w", err)
	}
	return scanTowers(rows)
}

// Aggregate summarises the towers inside box in a single query. On a
// crossing box longitudes are averaged on the shifted scale so the centroid
// does not collapse towards 0°.
func (r *TowerRepo) Aggregate(ctx context.Context, box domain.BoundingBox) (domain.Cluster, error) {
	where, args := boundsPredicate(box, 1)
	lon := shiftedLon(box, 3)

	var (
		c                      domain.Cluster
		avgLon, minLon, maxLon float64
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(lat), 0), COALESCE(AVG(`+lon+`), 0),
		       COALESCE(MIN(lat), 0), COALESCE(MAX(lat), 0),
		       COALESCE(MIN(`+lon+`), 0), COALESCE(MAX(`+lon+`), 0),
		       COALESCE(MIN(id), 0)
		FROM cell_towers
		WHERE `+where, args...,
	).Scan(
		&c.Count,
		&c.Centroid.Lat, &avgLon,
		&c.Extent.MinLat, &c.Extent.MaxLat,
		&minLon, &maxLon,
		&c.RepresentativeID,
	)
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("aggregate towers: %w", err)
	}

	c.Centroid.Lon = normalizeLon(avgLon)
	c.Extent.MinLon = normalizeLon(minLon)
	c.Extent.MaxLon = normalizeLon(maxLon)
	return c, nil
}

// AggregateGrid aggregates every cell of a gridLat × gridLon partition of box
// with one grouped query. Towers on an interior cell edge land in the
// upper/eastern cell, matching geospatial.Partition.
func (r *TowerRepo) AggregateGrid(ctx context.Context, box domain.BoundingBox, gridLat, gridLon int) ([]domain.Cluster, error) {
	where, args := boundsPredicate(box, 1)
	lon := shiftedLon(box, 3)

	latSpan := box.LatSpan()
	lonSpan := box.LonSpan()
	if latSpan <= 0 {
		latSpan = 1
	}
	if lonSpan <= 0 {
		lonSpan = 1
	}
	args = append(args, gridLat, gridLon, latSpan, lonSpan)

	rows, err := r.db.Pool.Query(ctx, `
		WITH cells AS (
			SELECT id, lat, `+lon+` AS slon,
			       LEAST(FLOOR((lat - $1) * $5::float8 / $7::float8)::int, $5::int - 1) AS grid_row,
			       LEAST(FLOOR((`+lon+` - $3) * $6::float8 / $8::float8)::int, $6::int - 1) AS grid_col
			FROM cell_towers
			WHERE `+where+`
		)
		SELECT grid_row, grid_col, COUNT(*),
		       AVG(lat), AVG(slon),
		       MIN(lat), MAX(lat), MIN(slon), MAX(slon),
		       MIN(id)
		FROM cells
		GROUP BY grid_row, grid_col
		ORDER BY grid_row, grid_col
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate grid: %w", err)
	}
	return scanGridCells(rows)
}

func scanGridCells(rows pgx.Rows) ([]domain.Cluster, error) {
	defer rows.Close()

	var clusters []domain.Cluster
	for rows.Next() {
		var (
			c                      domain.Cluster
			avgLon, minLon, maxLon float64
		)
		if err := rows.Scan(
			&c.Row, &c.Col, &c.Count,
			&c.Centroid.Lat, &avgLon,
			&c.Extent.MinLat, &c.Extent.MaxLat, &minLon, &maxLon,
			&c.RepresentativeID,
		); err != nil {
			return nil, fmt.Errorf("scan grid cell: %w", err)
		}
		c.Centroid.Lon = normalizeLon(avgLon)
		c.Extent.MinLon = normalizeLon(minLon)
		c.Extent.MaxLon = normalizeLon(maxLon)
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate grid rows: %w", err)
	}
	return clusters, nil
}

// GetByID returns a tower by id.
func (r *TowerRepo) GetByID(ctx context.Context, id int64) (*domain.Tower, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+towerColumns+` FROM cell_towers WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get tower: %w", err)
	}
	towers, err := scanTowers(rows)
	if err != nil {
		return nil, fmt.Errorf("get tower %d: %w", id, err)
	}
	if len(towers) == 0 {
		return nil, fmt.Errorf("tower %d: %w", id, domain.ErrNotFound)
	}
	return &towers[0], nil
}

// FindNearby returns towers within radiusMeters of a point, nearest first.
// The bounding box of the circle prefilters on the (lat, lon) index; the
// haversine distance is computed in SQL.
func (r *TowerRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Tower, error) {
	box := geospatial.RadiusBounds(lat, lon, radiusMeters)
	where, args := boundsPredicate(box, 1)
	args = append(args, lat, lon, radiusMeters, limit)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+towerColumns+`
		FROM (
			SELECT *, 2 * 6371000 * ASIN(SQRT(
				POWER(SIN(RADIANS(lat - $5) / 2), 2) +
				COS(RADIANS($5)) * COS(RADIANS(lat)) * POWER(SIN(RADIANS(lon - $6) / 2), 2)
			)) AS distance
			FROM cell_towers
			WHERE `+where+`
		) t
		WHERE distance <= $7
		ORDER BY distance, id
		LIMIT $8
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find nearby towers: %w", err)
	}
	return scanTowers(rows)
}

// Stats summarises the dataset.
func (r *TowerRepo) Stats(ctx context.Context) (*domain.DatasetStats, error) {
	stats := &domain.DatasetStats{ByRAT: make(map[string]int)}

	rows, err := r.db.Pool.Query(ctx, `SELECT rat, COUNT(*) FROM cell_towers GROUP BY rat`)
	if err != nil {
		return nil, fmt.Errorf("tower stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rat string
			n   int
		)
		if err := rows.Scan(&rat, &n); err != nil {
			return nil, fmt.Errorf("scan rat count: %w", err)
		}
		stats.ByRAT[rat] = n
		stats.Towers += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tower stats rows: %w", err)
	}
	if stats.Towers == 0 {
		return stats, nil
	}

	var b domain.BoundingBox
	err = r.db.Pool.QueryRow(ctx, `
		SELECT MIN(lat), MAX(lat), MIN(lon), MAX(lon) FROM cell_towers
	`).Scan(&b.MinLat, &b.MaxLat, &b.MinLon, &b.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("dataset bounds: %w", err)
	}
	stats.Bounds = &b
	return stats, nil
}

// ReplaceAll swaps the whole dataset inside one transaction using COPY.
// Towers without an id are numbered from 1 in input order.
func (r *TowerRepo) ReplaceAll(ctx context.Context, towers []domain.Tower) (int, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE cell_towers`); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"cell_towers"},
		[]string{"id", "lat", "lon", "mcc", "mnc", "lac", "cell_id", "psc", "rat"},
		pgx.CopyFromSlice(len(towers), func(i int) ([]any, error) {
			t := towers[i]
			id := t.ID
			if id == 0 {
				id = int64(i + 1)
			}
			return []any{id, t.Location.Lat, t.Location.Lon, t.MCC, t.MNC, t.LAC, t.CellID, t.PSC, t.RAT}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy towers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

// Analyze refreshes planner statistics after a bulk load.
func (r *TowerRepo) Analyze(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, `ANALYZE cell_towers`); err != nil {
		return fmt.Errorf("analyze cell_towers: %w", err)
	}
	return nil
}

func scanTowers(rows pgx.Rows) ([]domain.Tower, error) {
	defer rows.Close()

	var towers []domain.Tower
	for rows.Next() {
		var t domain.Tower
		if err := rows.Scan(
			&t.ID, &t.Location.Lat, &t.Location.Lon,
			&t.MCC, &t.MNC, &t.LAC, &t.CellID, &t.PSC, &t.RAT,
		); err != nil {
			return nil, fmt.Errorf("scan tower: %w", err)
		}
		towers = append(towers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan towers: %w", err)
	}
	return towers, nil
}
