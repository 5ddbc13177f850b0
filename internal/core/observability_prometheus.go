package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"herbtrace/pkg/domain"
)

// EventObserver is implemented by recorders that also count accepted custody
// events. The service checks for it with a type assertion.
type EventObserver interface {
	ObserveEvent(ctx context.Context, evt domain.EventType, state domain.State)
}

// PrometheusMetricsRecorder exports operation latencies, outcomes and
// accepted custody events as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	events   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the herbtrace collectors on reg. A nil
// registerer falls back to prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "herbtrace",
			Name:      "operation_duration_seconds",
			Help:      "Latency of herbtrace service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbtrace",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbtrace",
			Name:      "custody_events_total",
			Help:      "Custody events appended to batch ledgers.",
		}, []string{"event_type", "state"}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.total, r.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := string(AuditStatusSuccess)
	if !success {
		status = string(AuditStatusError)
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.total.WithLabelValues(operation, status).Inc()
}

// ObserveEvent implements EventObserver.
func (r *PrometheusMetricsRecorder) ObserveEvent(_ context.Context, evt domain.EventType, state domain.State) {
	r.events.WithLabelValues(string(evt), string(state)).Inc()
}
