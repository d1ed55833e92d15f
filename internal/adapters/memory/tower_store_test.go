package memory_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/samirrijal/towermap/internal/adapters/memory"
	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/usecases"
	"github.com/samirrijal/towermap/internal/pkg/geospatial"
)

func tower(id int64, lat, lon float64) domain.Tower {
	return domain.Tower{ID: id, Location: domain.GeoPoint{Lat: lat, Lon: lon}, RAT: "LTE"}
}

func TestTowerStore_CrossingBox(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{
		tower(1, 0, 175),
		tower(2, 1, -175),
		tower(3, -1, 179.9),
		tower(4, 0, 0),
		tower(5, 0, 160),
	})
	box := domain.BoundingBox{MinLat: -10, MaxLat: 10, MinLon: 170, MaxLon: -170}

	towers, err := store.InBounds(context.Background(), box)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(towers) != 3 {
		t.Fatalf("expected 3 towers, got %d", len(towers))
	}
	for i, want := range []int64{1, 2, 3} {
		if towers[i].ID != want {
			t.Errorf("towers[%d] = %d, want %d", i, towers[i].ID, want)
		}
	}
}

func TestTowerStore_OpenEdges(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{
		tower(1, 10, 10),
		tower(2, 5, 5),
	})
	ctx := context.Background()

	closed := domain.BoundingBox{MinLat: 0, MaxLat: 10, MinLon: 0, MaxLon: 10}
	if n, _ := store.CountInBounds(ctx, closed); n != 2 {
		t.Errorf("closed box: expected 2, got %d", n)
	}

	open := closed
	open.OpenMaxLat = true
	if n, _ := store.CountInBounds(ctx, open); n != 1 {
		t.Errorf("open max lat: expected 1, got %d", n)
	}
}

func TestTowerStore_AggregateCentroidAcrossAntimeridian(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{
		tower(7, 0, 179),
		tower(3, 0, -179),
	})
	box := domain.BoundingBox{MinLat: -10, MaxLat: 10, MinLon: 170, MaxLon: -170}

	c, err := store.Aggregate(context.Background(), box)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count != 2 {
		t.Fatalf("expected 2, got %d", c.Count)
	}
	if c.Centroid.Lon != 180 {
		t.Errorf("expected centroid on the antimeridian, got %v", c.Centroid.Lon)
	}
	if c.RepresentativeID != 3 {
		t.Errorf("expected lowest id as representative, got %d", c.RepresentativeID)
	}
	if !c.Extent.CrossesAntimeridian() {
		t.Errorf("expected crossing extent, got %s", c.Extent)
	}
}

func TestTowerStore_GetByID(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{tower(0, 1, 1), tower(0, 2, 2)})

	tw, err := store.GetByID(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tw.Location.Lat != 2 {
		t.Errorf("expected second tower numbered 2, got %+v", tw)
	}
	if _, err := store.GetByID(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTowerStore_FindNearby(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{
		tower(1, 43.2630, -2.9350), // Abando
		tower(2, 43.2640, -2.9340),
		tower(3, 40.4168, -3.7038), // Madrid
	})

	towers, err := store.FindNearby(context.Background(), 43.2641, -2.9341, 1000, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(towers) != 2 {
		t.Fatalf("expected 2 nearby towers, got %d", len(towers))
	}
	if towers[0].ID != 2 {
		t.Errorf("expected nearest first, got %d", towers[0].ID)
	}
}

func TestTowerStore_CancelledContext(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{tower(1, 0, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.CountInBounds(ctx, domain.WorldBounds); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTowerStore_Stats(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{
		tower(1, -5, 10),
		{ID: 2, Location: domain.GeoPoint{Lat: 5, Lon: -10}, RAT: "GSM"},
	})

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Towers != 2 || stats.ByRAT["LTE"] != 1 || stats.ByRAT["GSM"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	want := domain.BoundingBox{MinLat: -5, MaxLat: 5, MinLon: -10, MaxLon: 10}
	if *stats.Bounds != want {
		t.Errorf("bounds = %s, want %s", stats.Bounds, want)
	}
}

// Every tower in the box is counted by exactly one cluster, whether the box
// crosses the antimeridian or not.
func TestTowerStore_ClustersPartitionTheBox(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	towers := make([]domain.Tower, 0, 5000)
	for i := 0; i < 5000; i++ {
		towers = append(towers, tower(int64(i+1), rng.Float64()*40-20, rng.Float64()*60-30+180*float64(i%2)))
	}
	for i := range towers {
		if towers[i].Location.Lon > 180 {
			towers[i].Location.Lon -= 360
		}
	}
	// Points exactly on interior grid lines.
	towers = append(towers, tower(900001, 0, 175), tower(900002, 5, -175))

	store := memory.NewTowerStore(towers)
	opts := usecases.DefaultAggregationOptions()
	opts.MaxPointsInMemory = 10
	svc := usecases.NewAggregationService(store, nil, opts)
	ctx := context.Background()

	boxes := []domain.BoundingBox{
		{MinLat: -20, MaxLat: 20, MinLon: -30, MaxLon: 30},
		{MinLat: -20, MaxLat: 20, MinLon: 150, MaxLon: -150},
		{MinLat: -10, MaxLat: 10, MinLon: 170, MaxLon: -170},
	}
	for _, box := range boxes {
		total, err := store.CountInBounds(ctx, box)
		if err != nil {
			t.Fatalf("count: %v", err)
		}

		res, err := svc.Aggregate(ctx, box)
		if err != nil {
			t.Fatalf("aggregate %s: %v", box, err)
		}
		if res.Mode != domain.ModeClusters {
			t.Fatalf("expected clusters for %s, got %s", box, res.Mode)
		}

		sum := 0
		for _, c := range res.Clusters {
			sum += c.Count
			n, err := store.CountInBounds(ctx, c.Bounds)
			if err != nil {
				t.Fatal(err)
			}
			if n != c.Count {
				t.Errorf("cluster (%d,%d) count %d, drill-down recount %d", c.Row, c.Col, c.Count, n)
			}
		}
		if sum != total {
			t.Errorf("%s: clusters sum to %d, box holds %d", box, sum, total)
		}
	}
}

func TestTowerStore_PartitionCellsMatchAggregate(t *testing.T) {
	store := memory.NewTowerStore([]domain.Tower{tower(1, 0, 175), tower(2, 0, -175)})
	box := domain.BoundingBox{MinLat: -10, MaxLat: 10, MinLon: 170, MaxLon: -170}

	total := 0
	for _, cell := range geospatial.Partition(box, 4, 4) {
		n, err := store.CountInBounds(context.Background(), cell.Bounds)
		if err != nil {
			t.Fatal(err)
		}
		total += n
	}
	if total != 2 {
		t.Errorf("expected 2 towers across cells, got %d", total)
	}
}
