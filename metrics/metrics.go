// Package metrics exposes prometheus collectors for the sign/join pipeline
// and a small server that publishes them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Collectors groups every metric the client records.
type Collectors struct {
	MessageTransitions *prometheus.CounterVec
	Bootstraps         *prometheus.CounterVec
	SignBatches        *prometheus.CounterVec
	Joins              *prometheus.CounterVec
	WorkerRuns         *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	JoinDuration       prometheus.Histogram
}

// NewCollectors creates the collectors under namespace and registers them
// with reg. A nil reg leaves them unregistered, which tests rely on.
func NewCollectors(namespace string, reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		MessageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_transitions_total",
			Help:      "Messages moved into a status.",
		}, []string{"status"}),
		Bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_bootstraps_total",
			Help:      "Client and server parameter refreshes.",
		}, []string{"outcome"}),
		SignBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_batches_total",
			Help:      "Sign phases by outcome.",
		}, []string{"outcome"}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join requests by outcome.",
		}, []string{"outcome"}),
		WorkerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_runs_total",
			Help:      "Background worker cycles, including skipped ones.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch, sign and join phases included.",
			Buckets:   prometheus.DefBuckets,
		}),
		JoinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "join_duration_seconds",
			Help:      "Wall time of one join round trip.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.MessageTransitions,
			c.Bootstraps,
			c.SignBatches,
			c.Joins,
			c.WorkerRuns,
			c.BatchDuration,
			c.JoinDuration,
		)
	}
	return c
}

// MetricsServer serves a registry over HTTP at /metrics.
type MetricsServer struct {
	Registry   *prometheus.Registry
	Collectors *Collectors

	srv *http.Server
}

// New creates a metrics server listening on addr with a fresh registry
// that also carries the go runtime and process collectors.
func New(namespace, addr string) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsServer{
		Registry:   reg,
		Collectors: NewCollectors(namespace, reg),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the /metrics handler.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
