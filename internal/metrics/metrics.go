// Package metrics exports run progress as Prometheus metrics.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements runner.Recorder and cheese.CallObserver.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	hitsWritten   prometheus.Counter
	queryDuration *prometheus.HistogramVec
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// New registers the molsearch metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molsearch_queries_total",
				Help: "Total number of queries by outcome",
			},
			[]string{"outcome"}, // succeeded, skipped, failed, rejected
		),
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molsearch_attempts_total",
				Help: "Total attempts of queries and batches by result",
			},
			[]string{"result"}, // ok, error, rejected
		),
		hitsWritten: f.NewCounter(
			prometheus.CounterOpts{
				Name: "molsearch_hits_written_total",
				Help: "Total number of result rows written to the sink",
			},
		),
		queryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "molsearch_query_duration_seconds",
				Help:    "Duration of query processing including retries",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
			[]string{"outcome"},
		),
		callsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molsearch_api_calls_total",
				Help: "Total calls to the search service by endpoint and status",
			},
			[]string{"endpoint", "status"}, // status=200/401/.../error
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "molsearch_api_call_duration_seconds",
				Help:    "Duration of calls to the search service",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
			},
			[]string{"endpoint"},
		),
	}
}

// ObserveQuery records a finished query.
func (m *Metrics) ObserveQuery(outcome string, hits int, d time.Duration) {
	m.queriesTotal.WithLabelValues(outcome).Inc()
	if hits > 0 {
		m.hitsWritten.Add(float64(hits))
	}
	if d > 0 {
		m.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// ObserveAttempt records one attempt.
func (m *Metrics) ObserveAttempt(outcome string) {
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCall records one call to the service. A zero status means the request never got a response.
func (m *Metrics) ObserveCall(endpoint string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.callsTotal.WithLabelValues(endpoint, label).Inc()
	m.callDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "serve metrics on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
