// Package metrics exposes Prometheus collectors for the greenhouse service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	temperature       prometheus.Gauge
	humidity          prometheus.Gauge
	status            prometheus.Gauge
	watering          prometheus.Gauge
	wateringProgress  prometheus.Gauge
	unreadAlerts      prometheus.Gauge
	alertsRaised      *prometheus.CounterVec
	mirrorPublishes   *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
}

// New creates and registers the collectors, plus the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_temperature_celsius",
			Help: "Latest simulated temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_humidity_percent",
			Help: "Latest simulated relative humidity.",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_status",
			Help: "Environment status (0 normal, 1 warning, 2 critical).",
		}),
		watering: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_watering_in_progress",
			Help: "1 while a watering session runs.",
		}),
		wateringProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_watering_progress_percent",
			Help: "Progress of the current watering session.",
		}),
		unreadAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_alerts_unread",
			Help: "Unread alerts in the active set.",
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_alerts_raised_total",
			Help: "Alerts raised by kind.",
		}, []string{"kind"}),
		mirrorPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenhouse_mirror_publishes_total",
			Help: "Telemetry mirror publish attempts by result.",
		}, []string{"result"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.temperature,
		m.humidity,
		m.status,
		m.watering,
		m.wateringProgress,
		m.unreadAlerts,
		m.alertsRaised,
		m.mirrorPublishes,
		m.cbState,
	)

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying writer
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.status = http.StatusSwitchingProtocols
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

// Middleware records count and latency per route. routeOf names the route
// of a request; it runs after next so routers can resolve the match.
func (m *Metrics) Middleware(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			route := routeOf(r)
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnSnapshot updates the environment and irrigation gauges
func (m *Metrics) OnSnapshot(s models.Snapshot) {
	if m == nil {
		return
	}
	m.temperature.Set(s.Reading.Temperature)
	m.humidity.Set(s.Reading.Humidity)
	m.status.Set(float64(s.Reading.Status))
	if s.Irrigation.InProgress {
		m.watering.Set(1)
	} else {
		m.watering.Set(0)
	}
	m.wateringProgress.Set(s.Irrigation.ProgressPercent)
	m.unreadAlerts.Set(float64(s.UnreadAlerts))
}

// AlertRaised counts a new alert by kind
func (m *Metrics) AlertRaised(a models.Alert) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(string(a.Kind)).Inc()
}

// MirrorPublished counts a telemetry publish attempt
func (m *Metrics) MirrorPublished(success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.mirrorPublishes.WithLabelValues(result).Inc()
}

// SetCircuitBreakerState records a breaker state for target
func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}
