package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "towermap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "towermap",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Aggregation metrics
	AggregationPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "passes_total",
		Help:      "Completed aggregation passes by result mode",
	}, []string{"mode"})

	AggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a full aggregation pass",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"mode"})

	CellQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "cell_query_duration_seconds",
		Help:      "Duration of a single grid cell aggregate query",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	AggregationsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "cancelled_total",
		Help:      "Aggregation passes superseded by a newer viewport",
	})

	DataSourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "data_source_errors_total",
		Help:      "Failed data source calls by operation",
	}, []string{"op"})

	TooManyPoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "aggregation",
		Name:      "too_many_points_total",
		Help:      "Drill-downs refused because the box held too many towers",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towermap",
		Subsystem: "ws",
		Name:      "active_sessions",
		Help:      "Current number of viewport sessions",
	})

	DatasetEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "dataset",
		Name:      "update_events_total",
		Help:      "Dataset update events received",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "towermap",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towermap",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towermap",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "towermap",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from a *pgxpool.Stat.
func UpdateDBPoolMetrics(stat interface{}) {
	// Matched structurally so this package does not import pgxpool.
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
