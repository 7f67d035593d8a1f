// Package metrics exposes the daemon's Prometheus instrumentation: active
// globals, active links by negotiation state, work-queue depth, and data-loop
// cycle time. It is wholly independent of internal/graph's own logic —
// callers push samples in from the control loop's tick and from graph
// signals; nothing in this package drives engine behavior.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every gauge/counter/histogram the daemon reports, all
// registered against a private registry so multiple Metrics instances (as in
// tests) never collide on prometheus's default global registry.
type Metrics struct {
	registry *prometheus.Registry

	ActiveGlobals   prometheus.Gauge
	ActiveLinks     *prometheus.GaugeVec
	WorkQueueDepth  prometheus.Gauge
	DataLoopCycle   prometheus.Histogram
	ClientsAccepted prometheus.Counter
}

// New constructs a Metrics bundle and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ActiveGlobals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediagraph",
			Name:      "active_globals",
			Help:      "Number of objects currently published in the registry.",
		}),
		ActiveLinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mediagraph",
			Name:      "active_links",
			Help:      "Number of links currently in each negotiation state.",
		}, []string{"state"}),
		WorkQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediagraph",
			Name:      "workqueue_depth",
			Help:      "Number of items currently queued on the control loop's work queue.",
		}),
		DataLoopCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediagraph",
			Name:      "dataloop_cycle_seconds",
			Help:      "Wall-clock duration of one data-loop process cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		ClientsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediagraph",
			Name:      "clients_accepted_total",
			Help:      "Total number of client connections accepted on the native socket.",
		}),
	}

	reg.MustRegister(m.ActiveGlobals, m.ActiveLinks, m.WorkQueueDepth, m.DataLoopCycle, m.ClientsAccepted)
	return m
}

// SetLinkStates replaces the active_links gauge vector's values wholesale,
// given a count per state label; callers typically recompute this from a
// core.Globals() scan on a timer rather than incrementing/decrementing
// per-transition, since a link may skip or revisit states.
func (m *Metrics) SetLinkStates(counts map[string]int) {
	m.ActiveLinks.Reset()
	for state, n := range counts {
		m.ActiveLinks.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveDataLoopCycle records one data-loop iteration's duration.
func (m *Metrics) ObserveDataLoopCycle(d time.Duration) {
	m.DataLoopCycle.Observe(d.Seconds())
}

// Server serves /metrics on addr until its context is canceled.
type Server struct {
	httpServer *http.Server
}

// NewServer wraps Metrics behind an HTTP server bound to addr, not yet
// listening.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Run listens and serves until ctx is canceled, then shuts down gracefully.
// It returns nil on a clean shutdown, matching http.Server.Shutdown's
// contract rather than surfacing http.ErrServerClosed as a failure.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
