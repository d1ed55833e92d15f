// Package memory is an in-process tower store backed by an R-tree. It serves
// small and medium datasets without a database and backs the tests of the
// aggregation engine.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/dataset"
	"github.com/samirrijal/towermap/internal/pkg/geospatial"
)

// pointTolerance is the half-size of the rectangle indexed for each tower.
const pointTolerance = 1e-9

type indexedTower struct {
	tower domain.Tower
}

// Bounds implements rtreego.Spatial.
func (t *indexedTower) Bounds() rtreego.Rect {
	return rtreego.Point{t.tower.Location.Lon, t.tower.Location.Lat}.ToRect(pointTolerance)
}

// TowerStore implements ports.TowerRepository and ports.TowerWriter.
type TowerStore struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	byID map[int64]domain.Tower
}

// NewTowerStore indexes towers. Towers without an id are numbered from 1 in
// input order.
func NewTowerStore(towers []domain.Tower) *TowerStore {
	s := &TowerStore{}
	s.replace(towers)
	return s
}

// Open loads a dataset file into a new store.
func Open(path string) (*TowerStore, int, error) {
	res, err := dataset.Load(path)
	if err != nil {
		return nil, 0, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return NewTowerStore(res.Towers), res.Skipped, nil
}

func (s *TowerStore) replace(towers []domain.Tower) int {
	byID := make(map[int64]domain.Tower, len(towers))
	objs := make([]rtreego.Spatial, 0, len(towers))
	for i, t := range towers {
		if t.ID == 0 {
			t.ID = int64(i + 1)
		}
		byID[t.ID] = t
	}
	for _, t := range byID {
		objs = append(objs, &indexedTower{tower: t})
	}
	tree := rtreego.NewTree(2, 25, 50, objs...)

	s.mu.Lock()
	s.tree = tree
	s.byID = byID
	s.mu.Unlock()
	return len(byID)
}

// ReplaceAll swaps the indexed dataset.
func (s *TowerStore) ReplaceAll(ctx context.Context, towers []domain.Tower) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.replace(towers), nil
}

// Analyze is a no-op; the R-tree needs no statistics.
func (s *TowerStore) Analyze(ctx context.Context) error {
	return nil
}

// search returns the towers inside box, ordered by id.
func (s *TowerStore) search(ctx context.Context, box domain.BoundingBox) ([]domain.Tower, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	tree := s.tree
	s.mu.RUnlock()

	var hits []rtreego.Spatial
	for _, r := range searchRects(box) {
		hits = append(hits, tree.SearchIntersect(r)...)
	}

	towers := make([]domain.Tower, 0, len(hits))
	seen := make(map[int64]struct{}, len(hits))
	for _, h := range hits {
		t := h.(*indexedTower).tower
		if _, dup := seen[t.ID]; dup || !box.Contains(t.Location) {
			continue
		}
		seen[t.ID] = struct{}{}
		towers = append(towers, t)
	}
	sort.Slice(towers, func(i, j int) bool { return towers[i].ID < towers[j].ID })

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return towers, nil
}

// searchRects covers box with one rectangle, or two when it crosses the
// antimeridian. Rectangles are padded slightly; callers filter exactly with
// box.Contains.
func searchRects(box domain.BoundingBox) []rtreego.Rect {
	if box.CrossesAntimeridian() {
		return []rtreego.Rect{
			rect(box.MinLat, box.MaxLat, box.MinLon, 180),
			rect(box.MinLat, box.MaxLat, -180, box.MaxLon),
		}
	}
	return []rtreego.Rect{rect(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)}
}

func rect(minLat, maxLat, minLon, maxLon float64) rtreego.Rect {
	const pad = 1e-7
	r, err := rtreego.NewRect(
		rtreego.Point{minLon - pad, minLat - pad},
		[]float64{maxLon - minLon + 2*pad, maxLat - minLat + 2*pad},
	)
	if err != nil {
		// Lengths are always positive here.
		panic(err)
	}
	return r
}

// CountInBounds counts the towers inside box.
func (s *TowerStore) CountInBounds(ctx context.Context, box domain.BoundingBox) (int, error) {
	towers, err := s.search(ctx, box)
	if err != nil {
		return 0, err
	}
	return len(towers), nil
}

// InBounds returns the towers inside box, ordered by id.
func (s *TowerStore) InBounds(ctx context.Context, box domain.BoundingBox) ([]domain.Tower, error) {
	return s.search(ctx, box)
}

// Aggregate summarises the towers inside box. Longitudes are averaged on a
// scale that is continuous across the box, so a crossing box gets a centroid
// near ±180 rather than near 0.
func (s *TowerStore) Aggregate(ctx context.Context, box domain.BoundingBox) (domain.Cluster, error) {
	towers, err := s.search(ctx, box)
	if err != nil {
		return domain.Cluster{}, err
	}
	return summarise(box, towers), nil
}

func summarise(box domain.BoundingBox, towers []domain.Tower) domain.Cluster {
	var c domain.Cluster
	if len(towers) == 0 {
		return c
	}

	shift := func(lon float64) float64 {
		if box.CrossesAntimeridian() && lon < box.MinLon {
			return lon + 360
		}
		return lon
	}

	var sumLat, sumLon float64
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, t := range towers {
		lat, lon := t.Location.Lat, shift(t.Location.Lon)
		sumLat += lat
		sumLon += lon
		minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
		minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
	}

	n := float64(len(towers))
	c.Count = len(towers)
	c.Centroid = domain.GeoPoint{Lat: sumLat / n, Lon: normalizeLon(sumLon / n)}
	c.Extent = domain.BoundingBox{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLon: normalizeLon(minLon),
		MaxLon: normalizeLon(maxLon),
	}
	c.RepresentativeID = towers[0].ID
	return c
}

func normalizeLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}

// GetByID returns a tower by id.
func (s *TowerStore) GetByID(ctx context.Context, id int64) (*domain.Tower, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tower %d: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

// FindNearby returns towers within radiusMeters of a point, nearest first.
func (s *TowerStore) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Tower, error) {
	candidates, err := s.search(ctx, geospatial.RadiusBounds(lat, lon, radiusMeters))
	if err != nil {
		return nil, err
	}

	type hit struct {
		tower domain.Tower
		dist  float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, t := range candidates {
		d := geospatial.Haversine(lat, lon, t.Location.Lat, t.Location.Lon)
		if d <= radiusMeters {
			hits = append(hits, hit{tower: t, dist: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	towers := make([]domain.Tower, len(hits))
	for i, h := range hits {
		towers[i] = h.tower
	}
	return towers, nil
}

// Stats summarises the dataset.
func (s *TowerStore) Stats(ctx context.Context) (*domain.DatasetStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.DatasetStats{Towers: len(s.byID), ByRAT: make(map[string]int)}
	if len(s.byID) == 0 {
		return stats, nil
	}

	b := domain.BoundingBox{MinLat: 90, MaxLat: -90, MinLon: 180, MaxLon: -180}
	for _, t := range s.byID {
		stats.ByRAT[t.RAT]++
		b.MinLat = math.Min(b.MinLat, t.Location.Lat)
		b.MaxLat = math.Max(b.MaxLat, t.Location.Lat)
		b.MinLon = math.Min(b.MinLon, t.Location.Lon)
		b.MaxLon = math.Max(b.MaxLon, t.Location.Lon)
	}
	stats.Bounds = &b
	return stats, nil
}
