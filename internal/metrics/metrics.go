package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	renderPasses        *prometheus.CounterVec
	renderPassDuration  *prometheus.HistogramVec
	drawers             *prometheus.GaugeVec
	mapLoads            *prometheus.CounterVec
	iconFetches         *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and rendering metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metromap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by metromap",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metromap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by metromap",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	renderPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metromap",
		Name:      "render_passes_total",
		Help:      "Render passes per layer by outcome",
	}, []string{"layer", "result"})

	renderPassDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metromap",
		Name:      "render_pass_duration_seconds",
		Help:      "Duration of a single layer render pass",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"layer"})

	drawers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metromap",
		Name:      "drawers",
		Help:      "Live drawers per layer",
	}, []string{"layer"})

	mapLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metromap",
		Name:      "map_loads_total",
		Help:      "Map geometry loads by outcome",
	}, []string{"result"})

	iconFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metromap",
		Name:      "icon_fetches_total",
		Help:      "Station icon source fetches by outcome",
	}, []string{"result"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		renderPasses,
		renderPassDuration,
		drawers,
		mapLoads,
		iconFetches,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		renderPasses:        renderPasses,
		renderPassDuration:  renderPassDuration,
		drawers:             drawers,
		mapLoads:            mapLoads,
		iconFetches:         iconFetches,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveRenderPass records one layer of a render pass.
func (m *Metrics) ObserveRenderPass(layer string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.renderPasses.WithLabelValues(layer, result(err)).Inc()
	m.renderPassDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

func (m *Metrics) SetDrawers(layer string, n int) {
	if m == nil {
		return
	}
	m.drawers.WithLabelValues(layer).Set(float64(n))
}

func (m *Metrics) IncMapLoad(err error) {
	if m == nil {
		return
	}
	m.mapLoads.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) IncIconFetch(err error) {
	if m == nil {
		return
	}
	m.iconFetches.WithLabelValues(result(err)).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
