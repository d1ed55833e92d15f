package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/towermap/internal/adapters/http"
	"github.com/samirrijal/towermap/internal/adapters/memory"
	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/usecases"
)

// ---- Mocks ----

// failingRepo answers every query with err.
type failingRepo struct {
	err error
}

func (r *failingRepo) CountInBounds(ctx context.Context, box domain.BoundingBox) (int, error) {
	return 0, r.err
}
func (r *failingRepo) InBounds(ctx context.Context, box domain.BoundingBox) ([]domain.Tower, error) {
	return nil, r.err
}
func (r *failingRepo) Aggregate(ctx context.Context, box domain.BoundingBox) (domain.Cluster, error) {
	return domain.Cluster{}, r.err
}
func (r *failingRepo) GetByID(ctx context.Context, id int64) (*domain.Tower, error) {
	return nil, r.err
}
func (r *failingRepo) FindNearby(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Tower, error) {
	return nil, r.err
}
func (r *failingRepo) Stats(ctx context.Context) (*domain.DatasetStats, error) {
	return nil, r.err
}

type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type mockConnector struct {
	connected bool
}

func (m *mockConnector) Connected() bool { return m.connected }

// ---- Test helpers ----

// bilbaoTowers are five towers around Bilbao plus two either side of the
// antimeridian near Fiji.
func bilbaoTowers() []domain.Tower {
	return []domain.Tower{
		{ID: 1, Location: domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}, MCC: 214, MNC: 1, LAC: 1001, CellID: 11, RAT: "LTE"},
		{ID: 2, Location: domain.GeoPoint{Lat: 43.2640, Lon: -2.9340}, MCC: 214, MNC: 1, LAC: 1001, CellID: 12, RAT: "LTE"},
		{ID: 3, Location: domain.GeoPoint{Lat: 43.2700, Lon: -2.9400}, MCC: 214, MNC: 7, LAC: 1002, CellID: 13, RAT: "GSM"},
		{ID: 4, Location: domain.GeoPoint{Lat: 43.2500, Lon: -2.9200}, MCC: 214, MNC: 7, LAC: 1002, CellID: 14, RAT: "UMTS"},
		{ID: 5, Location: domain.GeoPoint{Lat: 43.2800, Lon: -2.9000}, MCC: 214, MNC: 3, LAC: 1003, CellID: 15, RAT: "NR"},
		{ID: 6, Location: domain.GeoPoint{Lat: -17.7, Lon: 179.5}, MCC: 542, MNC: 1, LAC: 1, CellID: 16, RAT: "LTE"},
		{ID: 7, Location: domain.GeoPoint{Lat: -17.8, Lon: -179.5}, MCC: 542, MNC: 1, LAC: 1, CellID: 17, RAT: "LTE"},
	}
}

const bilbaoQuery = "min_lat=43.2&max_lat=43.3&min_lon=-3.0&max_lon=-2.8"

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(opts ...func(*handler.Dependencies, *usecases.AggregationOptions)) *handler.Dependencies {
	aggOpts := usecases.DefaultAggregationOptions()
	d := &handler.Dependencies{BufferFraction: 0.1}
	for _, o := range opts {
		o(d, &aggOpts)
	}
	if d.Aggregation == nil {
		d.Aggregation = usecases.NewAggregationService(memory.NewTowerStore(bilbaoTowers()), nil, aggOpts)
	}
	return d
}

func withRepo(repo *failingRepo) func(*handler.Dependencies, *usecases.AggregationOptions) {
	return func(d *handler.Dependencies, o *usecases.AggregationOptions) {
		d.Aggregation = usecases.NewAggregationService(repo, nil, *o)
	}
}

func withMaxPoints(n int) func(*handler.Dependencies, *usecases.AggregationOptions) {
	return func(d *handler.Dependencies, o *usecases.AggregationOptions) {
		o.MaxPointsInMemory = n
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func decodeAPIError(t *testing.T, body io.Reader) handler.APIError {
	t.Helper()
	var apiErr handler.APIError
	if err := json.NewDecoder(body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return apiErr
}

// ---- Count ----

func TestCountTowers_Success(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/count?"+bilbaoQuery, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Count != 5 {
		t.Errorf("expected 5 towers, got %d", result.Count)
	}
}

func TestCountTowers_CrossingAntimeridian(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/count?min_lat=-20&max_lat=-15&min_lon=179&max_lon=-179", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Count  int                `json:"count"`
		Bounds domain.BoundingBox `json:"bounds"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 2 {
		t.Errorf("expected 2 towers across the antimeridian, got %d", result.Count)
	}
	if !result.Bounds.CrossesAntimeridian() {
		t.Errorf("expected crossing bounds echoed back, got %s", result.Bounds)
	}
}

func TestCountTowers_MissingParams(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/count?min_lat=1", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if apiErr := decodeAPIError(t, resp.Body); apiErr.Code != "bad_request" {
		t.Errorf("expected bad_request error, got %s", apiErr.Code)
	}
}

func TestCountTowers_InvalidBounds(t *testing.T) {
	app := setupApp(makeDeps())

	for _, q := range []string{
		"min_lat=10&max_lat=5&min_lon=0&max_lon=1",
		"min_lat=0&max_lat=95&min_lon=0&max_lon=1",
		"min_lat=0&max_lat=1&min_lon=-181&max_lon=1",
		"min_lat=abc&max_lat=1&min_lon=0&max_lon=1",
	} {
		req := httptest.NewRequest("GET", "/v1/towers/count?"+q, nil)
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestCountTowers_DataSourceError(t *testing.T) {
	app := setupApp(makeDeps(withRepo(&failingRepo{err: errors.New("connection refused")})))

	req := httptest.NewRequest("GET", "/v1/towers/count?"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if apiErr := decodeAPIError(t, resp.Body); apiErr.Code != "data_source_error" {
		t.Errorf("expected data_source_error, got %s", apiErr.Code)
	}
}

// ---- Aggregate ----

func TestAggregateTowers_Points(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/aggregate?"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result domain.AggregationResult
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Mode != domain.ModePoints {
		t.Fatalf("expected points mode, got %s", result.Mode)
	}
	if len(result.Towers) != 5 || result.Total != 5 {
		t.Errorf("expected 5 towers, got %d (total %d)", len(result.Towers), result.Total)
	}
}

func TestAggregateTowers_Clusters(t *testing.T) {
	app := setupApp(makeDeps(withMaxPoints(2)))

	req := httptest.NewRequest("GET", "/v1/towers/aggregate?"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result domain.AggregationResult
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Mode != domain.ModeClusters {
		t.Fatalf("expected clusters mode, got %s", result.Mode)
	}
	sum := 0
	for _, c := range result.Clusters {
		if c.Count == 0 {
			t.Errorf("empty cluster (%d,%d) returned", c.Row, c.Col)
		}
		sum += c.Count
	}
	if sum != 5 {
		t.Errorf("expected clusters to hold 5 towers, got %d", sum)
	}
	if len(result.Towers) != 0 {
		t.Errorf("expected no towers in clusters mode, got %d", len(result.Towers))
	}
}

func TestAggregateTowers_GeoJSON(t *testing.T) {
	app := setupApp(makeDeps(withMaxPoints(2)))

	req := httptest.NewRequest("GET", "/v1/towers/aggregate?format=geojson&"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/geo+json") {
		t.Errorf("expected geo+json content type, got %q", ct)
	}

	var fc struct {
		Type     string    `json:"type"`
		Mode     string    `json:"mode"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(readBody(t, resp.Body), &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || fc.Mode != "clusters" {
		t.Errorf("unexpected collection type=%s mode=%s", fc.Type, fc.Mode)
	}
	if len(fc.BBox) != 4 || fc.BBox[0] != -3.0 || fc.BBox[3] != 43.3 {
		t.Errorf("unexpected bbox %v", fc.BBox)
	}
	if len(fc.Features) == 0 {
		t.Fatal("expected cluster features")
	}
	for _, f := range fc.Features {
		if f.Properties["kind"] != "cluster" {
			t.Errorf("expected cluster feature, got %v", f.Properties["kind"])
		}
	}
}

func TestAggregateTowers_BadFormat(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/aggregate?format=kml&"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- List ----

func TestListTowers_Pagination(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers?offset=2&limit=2&"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result handler.TowerListResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 2 || result.Data[0].ID != 3 {
		t.Errorf("expected towers 3 and 4, got %+v", result.Data)
	}

	link := resp.Header.Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, "min_lat=43.2") {
		t.Errorf("expected next link carrying the bounds, got %q", link)
	}
}

func TestListTowers_TooManyPoints(t *testing.T) {
	app := setupApp(makeDeps(withMaxPoints(3)))

	req := httptest.NewRequest("GET", "/v1/towers?"+bilbaoQuery, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result handler.TowerListResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.TooManyPoints {
		t.Error("expected too_many_points")
	}
	if len(result.Data) != 0 {
		t.Errorf("expected no towers listed, got %d", len(result.Data))
	}
	if result.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Pagination.Total)
	}
}

// ---- Clusters ----

func TestClusterTowers_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body, _ := json.Marshal(domain.Cluster{
		Count:  2,
		Bounds: domain.BoundingBox{MinLat: 43.26, MaxLat: 43.265, MinLon: -2.94, MaxLon: -2.93},
	})
	req := httptest.NewRequest("POST", "/v1/clusters/towers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var dd domain.DrillDown
	json.NewDecoder(resp.Body).Decode(&dd)
	if dd.Count != 2 || len(dd.Towers) != 2 || dd.TooManyPoints {
		t.Errorf("unexpected drill-down %+v", dd)
	}
}

func TestClusterTowers_InvalidBounds(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/clusters/towers",
		strings.NewReader(`{"bounds":{"min_lat":50,"max_lat":40,"min_lon":0,"max_lon":1}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- Nearby / single tower ----

func TestNearbyTowers_Success(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/nearby?lat=43.2641&lon=-2.9341&radius=500", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var towers []domain.Tower
	json.NewDecoder(resp.Body).Decode(&towers)
	if len(towers) != 2 {
		t.Fatalf("expected 2 towers, got %d", len(towers))
	}
	if towers[0].ID != 2 {
		t.Errorf("expected nearest tower first, got %d", towers[0].ID)
	}
}

func TestNearbyTowers_BadRadius(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/nearby?lat=43.26&lon=-2.93&radius=60000", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetTower(t *testing.T) {
	app := setupApp(makeDeps())

	tests := []struct {
		path   string
		status int
	}{
		{"/v1/towers/3", 200},
		{"/v1/towers/999", 404},
		{"/v1/towers/abc", 400},
		{"/v1/towers/0", 400},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.status, resp.StatusCode)
		}
	}
}

func TestDatasetStats(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/dataset/stats", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats domain.DatasetStats
	json.NewDecoder(resp.Body).Decode(&stats)
	if stats.Towers != 7 || stats.ByRAT["LTE"] != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// ---- Viewport ----

func TestViewportBounds_Corners(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"corners":[
		{"lat":10,"lon":170},{"lat":10,"lon":-170},
		{"lat":-10,"lon":170},{"lat":-10,"lon":-170}
	],"buffer":0}`
	req := httptest.NewRequest("POST", "/v1/viewport/bounds", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}

	var result struct {
		Bounds  domain.BoundingBox `json:"bounds"`
		Crosses bool               `json:"crosses_antimeridian"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.Crosses {
		t.Errorf("expected crossing viewport, got %s", result.Bounds)
	}
	if result.Bounds.MinLon != 170 || result.Bounds.MaxLon != -170 {
		t.Errorf("unexpected longitudes %s", result.Bounds)
	}
}

func TestViewportBounds_WrongCornerCount(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/viewport/bounds", strings.NewReader(`{"corners":[{"lat":1,"lon":1}]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- GraphQL ----

func TestGraphQL_Aggregate(t *testing.T) {
	app := setupApp(makeDeps(withMaxPoints(2)))

	query := `{"query":"{ aggregate(bounds:{min_lat:43.2,max_lat:43.3,min_lon:-3.0,max_lon:-2.8}) { mode total clusters { count bounds { min_lat } } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(query))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Aggregate struct {
				Mode     string `json:"mode"`
				Total    int    `json:"total"`
				Clusters []struct {
					Count int `json:"count"`
				} `json:"clusters"`
			} `json:"aggregate"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors %v", result.Errors)
	}
	if result.Data.Aggregate.Mode != "clusters" || result.Data.Aggregate.Total != 5 {
		t.Errorf("unexpected aggregate %+v", result.Data.Aggregate)
	}
}

func TestGraphQL_TowerAndStats(t *testing.T) {
	app := setupApp(makeDeps())

	query := `{"query":"{ tower(id: 6) { id rat location { lon } } datasetStats { towers by_rat { rat count } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(query))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Tower struct {
				ID       int64 `json:"id"`
				Location struct {
					Lon float64 `json:"lon"`
				} `json:"location"`
			} `json:"tower"`
			DatasetStats struct {
				Towers int `json:"towers"`
				ByRAT  []struct {
					RAT   string `json:"rat"`
					Count int    `json:"count"`
				} `json:"by_rat"`
			} `json:"datasetStats"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Data.Tower.ID != 6 || result.Data.Tower.Location.Lon != 179.5 {
		t.Errorf("unexpected tower %+v", result.Data.Tower)
	}
	if result.Data.DatasetStats.Towers != 7 || len(result.Data.DatasetStats.ByRAT) != 4 {
		t.Errorf("unexpected stats %+v", result.Data.DatasetStats)
	}
	if result.Data.DatasetStats.ByRAT[0].RAT != "GSM" {
		t.Errorf("expected by_rat sorted, got %+v", result.Data.DatasetStats.ByRAT)
	}
}

func TestGraphQL_InvalidBounds(t *testing.T) {
	app := setupApp(makeDeps())

	query := `{"query":"{ towerCount(bounds:{min_lat:50,max_lat:40,min_lon:0,max_lon:1}) }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(query))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)

	var result struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0].Message, "invalid bounds") {
		t.Errorf("expected invalid bounds error, got %+v", result.Errors)
	}
}

// ---- Health ----

func TestHealth(t *testing.T) {
	deps := makeDeps()
	deps.Sessions = usecases.NewSessionHub(deps.Aggregation, time.Second)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		deps   func(d *handler.Dependencies)
		status int
	}{
		{"nothing configured", func(d *handler.Dependencies) {}, 200},
		{"all healthy", func(d *handler.Dependencies) {
			d.DB = &mockPinger{}
			d.Cache = &mockPinger{}
			d.NATS = &mockConnector{connected: true}
		}, 200},
		{"database down", func(d *handler.Dependencies) {
			d.DB = &mockPinger{pingFn: func(ctx context.Context) error { return errors.New("dial tcp: refused") }}
		}, 503},
		{"nats disconnected", func(d *handler.Dependencies) {
			d.NATS = &mockConnector{connected: false}
		}, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := makeDeps()
			tt.deps(deps)
			app := setupApp(deps)

			req := httptest.NewRequest("GET", "/v1/ready", nil)
			resp, _ := app.Test(req, -1)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

// ---- Middleware ----

func TestETag_NotModified(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/dataset/stats", nil)
	resp, _ := app.Test(req, -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req = httptest.NewRequest("GET", "/v1/dataset/stats", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
}

func TestRequestIDInErrors(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/towers/count", nil)
	resp, _ := app.Test(req, -1)
	apiErr := decodeAPIError(t, resp.Body)
	if apiErr.RequestID == "" {
		t.Error("expected request_id in error body")
	}
	if apiErr.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("request_id %q does not match header %q", apiErr.RequestID, resp.Header.Get("X-Request-ID"))
	}
}
