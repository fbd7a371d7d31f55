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
		Namespace: "geoar",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoar",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Scene metrics
	SceneLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "loads_total",
		Help:      "Scene object loads by outcome (ready, fallback, failed, cancelled)",
	}, []string{"outcome"})

	SceneLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "load_duration_seconds",
		Help:      "Time from Loading to a settled node state",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	SceneRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "removals_total",
		Help:      "Scene nodes removed",
	})

	SceneNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "nodes",
		Help:      "Scene nodes currently held by the manager",
	})

	SceneVisibleNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "visible_nodes",
		Help:      "Nodes inside the camera frustum on the last frame",
	})

	GPUHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "gpu_handles",
		Help:      "GPU resource handles currently held by the renderer",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of reconcile passes",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	})

	ReconcileCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "scene",
		Name:      "reconcile_coalesced_total",
		Help:      "Updates absorbed by a newer pending update",
	})

	// Range metrics
	AgentsInRange = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoar",
		Subsystem: "range",
		Name:      "agents_in_range",
		Help:      "Agents within their visibility radius after the last recomputation",
	})

	RangeInputRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "range",
		Name:      "input_rejected_total",
		Help:      "Malformed locations or agents ignored by the range service",
	}, []string{"kind"})

	RecordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "feed",
		Name:      "records_rejected_total",
		Help:      "Agent records rejected by the boundary parser",
	})

	// Session metrics
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Session state transitions by target state",
	}, []string{"state"})

	SessionInitAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "session",
		Name:      "init_attempts_total",
		Help:      "Session initialization attempts by outcome",
	}, []string{"outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoar",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoar",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})
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
