// Package promexport exposes the executor's command and session counters to
// Prometheus. It is purely additive: internal/interfaces.Observer calls land
// here as well as on the in-process Metrics struct, and nothing in the
// dispatch path depends on whether a scrape endpoint is actually listening.
package promexport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/behrlich/tee-executor/internal/interfaces"
)

// Exporter implements interfaces.Observer over a set of Prometheus metric
// vectors, keyed by backend and (for commands) TLV command name.
type Exporter struct {
	sessionsTotal   *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	coverageTotal   *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// New builds an Exporter registered against a fresh registry (not the
// global default, so multiple executor processes in the same test binary
// don't collide).
func New() *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry: reg,
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_sessions_total",
			Help: "TEE sessions opened, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_commands_total",
			Help: "TLV commands dispatched, by backend, command, and outcome.",
		}, []string{"backend", "command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "executor_command_duration_seconds",
			Help:    "Command dispatch latency, by backend and command.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "command"}),
		coverageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_coverage_scans_total",
			Help: "Post-execute coverage scans, by backend and whether new coverage was found.",
		}, []string{"backend", "new_coverage"}),
	}

	reg.MustRegister(e.sessionsTotal, e.commandsTotal, e.commandDuration, e.coverageTotal)
	return e
}

func (e *Exporter) ObserveSession(backend string, success bool) {
	e.sessionsTotal.WithLabelValues(backend, outcome(success)).Inc()
}

func (e *Exporter) ObserveCommand(backend, command string, latencyNs uint64, success bool) {
	e.commandsTotal.WithLabelValues(backend, command, outcome(success)).Inc()
	e.commandDuration.WithLabelValues(backend, command).Observe(float64(latencyNs) / 1e9)
}

func (e *Exporter) ObserveCoverage(backend string, newCoverage bool) {
	e.coverageTotal.WithLabelValues(backend, boolLabel(newCoverage)).Inc()
}

// Serve starts an HTTP server exposing /metrics on addr. It runs until ctx
// is canceled, at which point it shuts down gracefully.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	e.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- e.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return e.server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func outcome(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ interfaces.Observer = (*Exporter)(nil)
