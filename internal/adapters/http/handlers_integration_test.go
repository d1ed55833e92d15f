//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samirrijal/towermap/internal/adapters/http"
	"github.com/samirrijal/towermap/internal/adapters/postgres"
	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/usecases"
	"github.com/samirrijal/towermap/internal/pkg/config"
)

// setupTestDB connects to the test database and loads the fixture towers.
// The cell_towers table is replaced, so point TOWERMAP_DATABASE_* at a
// throwaway database.
func setupTestDB(t *testing.T) (*postgres.DB, *postgres.TowerRepo) {
	cfg, err := config.Load("towermap-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}

	repo := postgres.NewTowerRepo(db)
	if _, err := repo.ReplaceAll(ctx, bilbaoTowers()); err != nil {
		db.Close()
		t.Fatalf("seed towers: %v", err)
	}
	if err := repo.Analyze(ctx); err != nil {
		t.Logf("analyze: %v", err)
	}
	return db, repo
}

func setupTestDeps(db *postgres.DB, repo *postgres.TowerRepo, opts usecases.AggregationOptions) *http.Dependencies {
	return &http.Dependencies{
		Aggregation:    usecases.NewAggregationService(repo, nil, opts),
		BufferFraction: 0.1,
		DB:             db,
	}
}

func TestCountTowers_Integration_CrossingBox(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, repo := setupTestDB(t)
	defer db.Close()
	app := setupApp(setupTestDeps(db, repo, usecases.DefaultAggregationOptions()))

	req := httptest.NewRequest("GET", "/v1/towers/count?min_lat=-20&max_lat=-15&min_lon=179&max_lon=-179", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("expected 2 towers across the antimeridian, got %d", result.Count)
	}
}

// Per-cell queries and the grouped grid query must agree.
func TestAggregate_Integration_NativeGridMatchesFanOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, repo := setupTestDB(t)
	defer db.Close()

	box := domain.BoundingBox{MinLat: 43.21, MaxLat: 43.3, MinLon: -3.01, MaxLon: -2.8}
	opts := usecases.DefaultAggregationOptions()
	opts.MaxPointsInMemory = 2

	fanOut, err := usecases.NewAggregationService(repo, nil, opts).Aggregate(context.Background(), box)
	if err != nil {
		t.Fatalf("fan-out aggregate: %v", err)
	}
	opts.NativeGrid = true
	native, err := usecases.NewAggregationService(repo, nil, opts).Aggregate(context.Background(), box)
	if err != nil {
		t.Fatalf("native aggregate: %v", err)
	}

	if len(fanOut.Clusters) != len(native.Clusters) {
		t.Fatalf("fan-out produced %d clusters, native %d", len(fanOut.Clusters), len(native.Clusters))
	}
	for i := range fanOut.Clusters {
		a, b := fanOut.Clusters[i], native.Clusters[i]
		if a.Row != b.Row || a.Col != b.Col || a.Count != b.Count || a.RepresentativeID != b.RepresentativeID {
			t.Errorf("cluster %d differs: fan-out %+v, native %+v", i, a, b)
		}
	}
}

func TestNearbyTowers_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, repo := setupTestDB(t)
	defer db.Close()
	app := setupApp(setupTestDeps(db, repo, usecases.DefaultAggregationOptions()))

	req := httptest.NewRequest("GET", "/v1/towers/nearby?lat=43.2641&lon=-2.9341&radius=500", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var towers []domain.Tower
	if err := json.NewDecoder(resp.Body).Decode(&towers); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(towers) != 2 || towers[0].ID != 2 {
		t.Errorf("expected towers 2 then 1, got %+v", towers)
	}
}

func TestReady_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, repo := setupTestDB(t)
	defer db.Close()
	app := setupApp(setupTestDeps(db, repo, usecases.DefaultAggregationOptions()))

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/ready", nil), -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
