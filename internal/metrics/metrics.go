package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	reg       *prometheus.Registry
	syncs     *prometheus.CounterVec
	duration  prometheus.Histogram
	discarded prometheus.Counter
	submitted prometheus.Counter
	requests  *prometheus.CounterVec
}

func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizsync_sync_total",
			Help: "Quiz syncs by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quizsync_sync_duration_seconds",
			Help:    "Duration of quiz syncs",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizsync_discarded_slots_total",
			Help: "Offline answers discarded because the question changed online",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizsync_submitted_answers_total",
			Help: "Offline answers submitted to the site",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizsync_http_requests_total",
			Help: "Control API requests",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.syncs, m.duration, m.discarded, m.submitted, m.requests)
	return m
}

func (m *Metrics) SyncObserved(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) Discarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discarded.Add(float64(n))
}

func (m *Metrics) Submitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.submitted.Add(float64(n))
}

func (m *Metrics) Request(method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
