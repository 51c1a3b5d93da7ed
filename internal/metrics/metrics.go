// Package metrics exposes Prometheus collectors for ingestion and name
// resolution.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics owns a private registry so several daemons (or tests) can coexist
// in one process.
type Metrics struct {
	reg *prometheus.Registry

	tuplesApplied prometheus.Counter
	keysDropped   prometheus.Counter
	batchRetries  prometheus.Counter
	runsFinished  *prometheus.CounterVec
	ensLookups    *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		tuplesApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "lensdm_ingest_tuples_applied_total",
			Help: "Thread summaries applied to the preview map",
		}),
		keysDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "lensdm_ingest_keys_dropped_total",
			Help: "Thread summaries skipped because of a malformed conversation key",
		}),
		batchRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "lensdm_ingest_batch_retries_total",
			Help: "Batch fetch attempts that failed and were retried",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lensdm_ingest_runs_total",
			Help: "Finished ingestion runs by result",
		}, []string{"result"}),
		ensLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lensdm_ens_lookups_total",
			Help: "Name lookups that reached the resolver, by result",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// BatchApplied implements sync.Observer.
func (m *Metrics) BatchApplied(tuples, dropped int) {
	m.tuplesApplied.Add(float64(tuples - dropped))
	m.keysDropped.Add(float64(dropped))
}

// BatchRetried implements sync.Observer.
func (m *Metrics) BatchRetried() { m.batchRetries.Inc() }

// RunFinished implements sync.Observer.
func (m *Metrics) RunFinished(err error) {
	result := "done"
	if err != nil {
		result = "failed"
	}
	m.runsFinished.WithLabelValues(result).Inc()
}

// ObserveLookup implements ens.Observer.
func (m *Metrics) ObserveLookup(found bool, err error) {
	switch {
	case err != nil:
		m.ensLookups.WithLabelValues("error").Inc()
	case found:
		m.ensLookups.WithLabelValues("found").Inc()
	default:
		m.ensLookups.WithLabelValues("not_found").Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Server serves /metrics on a TCP address.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server for addr.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. It returns the
// bound address.
func (s *Server) Start() (string, error) {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	s.logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	return lis.Addr().String(), nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
