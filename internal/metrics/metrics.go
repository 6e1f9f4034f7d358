// Package metrics exposes the dispatcher's internal state as Prometheus
// gauges and counters (SPEC_FULL DOMAIN STACK: observability). It is
// optional: a nil *Metrics (or simply never calling Serve) leaves the
// daemon's behavior unchanged, since SetWorkers, SetWaitlist and
// IncJobsCompleted nil-check their receiver.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gauges and counters the store updates on every
// mutation.
type Metrics struct {
	registry *prometheus.Registry

	workersIdle    prometheus.Gauge
	workersBusy    prometheus.Gauge
	waitlistLength prometheus.Gauge
	jobsCompleted  prometheus.Counter
	server         *http.Server
}

// New constructs a fresh, independently registered Metrics instance.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_workers_idle",
			Help: "Number of registered workers currently idle.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_workers_busy",
			Help: "Number of registered workers currently running a job.",
		}),
		waitlistLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_waitlist_length",
			Help: "Number of jobs queued waiting for an idle worker.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_jobs_completed_total",
			Help: "Number of jobs observed to complete, successfully or not.",
		}),
	}

	reg.MustRegister(m.workersIdle, m.workersBusy, m.waitlistLength, m.jobsCompleted)

	return m
}

// SetWorkers records the current idle/busy worker counts.
func (m *Metrics) SetWorkers(idle, busy int) {
	if m == nil {
		return
	}
	m.workersIdle.Set(float64(idle))
	m.workersBusy.Set(float64(busy))
}

// SetWaitlist records the current waitlist length.
func (m *Metrics) SetWaitlist(n int) {
	if m == nil {
		return
	}
	m.waitlistLength.Set(float64(n))
}

// IncJobsCompleted increments the completed-jobs counter.
func (m *Metrics) IncJobsCompleted() {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until the
// context is cancelled or the server fails to start.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
