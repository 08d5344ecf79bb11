package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TaskSelections  *prometheus.CounterVec
	LockEvents      *prometheus.CounterVec
	LocksReleased   prometheus.Counter
	StatusChanges   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TaskSelections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_selections_total",
			Help:      "Task selection calls by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		LockEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_lock_events_total",
			Help:      "Task lock lifecycle events by type.",
		}, []string{"event"}),
		LocksReleased: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_locks_swept_total",
			Help:      "Expired task locks released by the sweep.",
		}),
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_status_changes_total",
			Help:      "Task status transitions by resulting status name.",
		}, []string{"status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request duration in milliseconds by route.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"route", "method"}),
	}
}

// ObserveSelection records one selection call outcome.
func (m *Metrics) ObserveSelection(strategy string, found bool) {
	outcome := "empty"
	if found {
		outcome = "found"
	}
	m.TaskSelections.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, method).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
