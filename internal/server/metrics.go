package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	html2pdf "github.com/alnah/go-html2pdf"
)

const namespace = "html2pdf"

// StatusReporter exposes recorded pool states without probing.
type StatusReporter interface {
	Statuses() []html2pdf.InstanceStatus
}

// ClientCounter exposes the number of tracked rate-limit identifiers.
type ClientCounter interface {
	Clients() int
}

var _ html2pdf.Observer = (*Metrics)(nil)

// Metrics holds the Prometheus collectors of the service on a dedicated
// registry.
type Metrics struct {
	registry *prometheus.Registry

	// Render metrics
	renders        *prometheus.CounterVec
	renderFailures *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors, plus the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Finished render requests by outcome",
			},
			[]string{"outcome"},
		),
		renderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "render_failures_total",
				Help:      "Failed renders by the stage that failed",
			},
			[]string{"stage"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Render duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.renders,
		m.renderFailures,
		m.renderDuration,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRender records one finished render.
func (m *Metrics) ObserveRender(outcome string, stage html2pdf.Stage, d time.Duration) {
	m.renders.WithLabelValues(outcome).Inc()
	m.renderDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == html2pdf.OutcomeFailed {
		m.renderFailures.WithLabelValues(string(stage)).Inc()
	}
}

// WatchPool exports the number of instances in each state, read at scrape
// time.
func (m *Metrics) WatchPool(pool StatusReporter) {
	states := []html2pdf.InstanceState{
		html2pdf.StateStarting,
		html2pdf.StateReady,
		html2pdf.StateDegraded,
		html2pdf.StateClosed,
	}
	for _, state := range states {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "pool_instances",
				Help:        "Browser instances by state",
				ConstLabels: prometheus.Labels{"state": state.String()},
			},
			func() float64 {
				n := 0
				for _, s := range pool.Statuses() {
					if s.State == state {
						n++
					}
				}
				return float64(n)
			},
		))
	}
}

// WatchRateLimiter exports the number of tracked client identifiers. The
// limiter never evicts them, so this only grows.
func (m *Metrics) WatchRateLimiter(limiter ClientCounter) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limiter_clients",
			Help:      "Client identifiers tracked by the rate limiter",
		},
		func() float64 { return float64(limiter.Clients()) },
	))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequests.WithLabelValues(method, path, status).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
