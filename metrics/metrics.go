// Package metrics exposes Prometheus collectors for backend operations.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend labels.
const (
	BackendPrimary   = "primary"
	BackendRemotePin = "remote_pin"
	BackendMirror    = "mirror"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics counts and times every backend call made by the orchestrators.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    prometheus.Counter
}

// New registers the collectors on reg. A nil reg gives unregistered collectors,
// which is what tests and one-shot CLI invocations use.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_operations_total",
			Help:      "Backend operations by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Latency of backend operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_retries_total",
			Help:      "Mirror attempts that were retried after a transient error.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an already registered collector of the same shape.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Observe records one finished operation.
func (m *Metrics) Observe(backend, op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(backend, op, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.duration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}

// Retried counts one mirror retry.
func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// MetricsServer serves /metrics for a gatherer.
type MetricsServer struct {
	srv *http.Server
}

// NewServer creates a metrics HTTP server on addr.
func NewServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
