// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoflash"

// Metrics groups the application's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsSwept     prometheus.Counter
	activeSessions    prometheus.Gauge
	grades            *prometheus.CounterVec

	cardsGenerated     prometheus.Counter
	generationDuration prometheus.Histogram
	generationErrors   prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_sessions_started_total",
			Help:      "Study sessions started.",
		}),
		sessionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_sessions_completed_total",
			Help:      "Study sessions that reached completion.",
		}),
		sessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_sessions_swept_total",
			Help:      "Idle study sessions removed by the sweeper.",
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "study_sessions_active",
			Help:      "Study sessions currently held in memory.",
		}),
		grades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "study_grades_total",
			Help:      "Grades recorded during study sessions.",
		}, []string{"result"}),
		cardsGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashcards_generated_total",
			Help:      "Flashcards produced by the generator.",
		}),
		generationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of generation calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		generationErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Failed generation calls.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SessionStarted counts a new study session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// SessionCompleted counts a study session that reached completion.
func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
}

// SessionsSwept counts sessions removed for inactivity.
func (m *Metrics) SessionsSwept(n int) {
	if m == nil {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

// SetActiveSessions reports how many sessions are held in memory.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Grade counts one grade.
func (m *Metrics) Grade(correct bool) {
	if m == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	m.grades.WithLabelValues(result).Inc()
}

// Generated records a generation call and how many cards it produced.
func (m *Metrics) Generated(cards int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
	if err != nil {
		m.generationErrors.Inc()
		return
	}
	m.cardsGenerated.Add(float64(cards))
}
