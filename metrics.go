package executor

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/tee-executor/internal/interfaces"
)

// Backend and command indices into Metrics' fixed-size counter tables.
const (
	BackendOptee = iota
	BackendQSEE
	BackendTC
	BackendBeanpod
	numBackends
)

const (
	CmdStart = iota
	CmdSend
	CmdEnd
	CmdTerminate
	numCommands
)

// BackendIndex maps a backend's target name to its Metrics table index, or
// -1 if unrecognized.
func BackendIndex(name string) int {
	switch name {
	case "optee":
		return BackendOptee
	case "qsee":
		return BackendQSEE
	case "tc":
		return BackendTC
	case "beanpod":
		return BackendBeanpod
	default:
		return -1
	}
}

// LatencyBuckets are cumulative latency histogram bucket boundaries, in
// nanoseconds, covering 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-backend, per-command outcome counters plus session and
// coverage statistics for the lifetime of one forkserver process.
type Metrics struct {
	CommandOps    [numBackends][numCommands]atomic.Uint64
	CommandErrors [numBackends][numCommands]atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyHist    [numLatencyBuckets]atomic.Uint64

	SessionsOpened atomic.Uint64
	SessionsFailed atomic.Uint64

	CoverageRuns    atomic.Uint64
	CoverageNewHits atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCommand records the outcome of one dispatched TLV command.
func (m *Metrics) RecordCommand(backend, cmd int, latencyNs uint64, success bool) {
	if backend < 0 || backend >= numBackends || cmd < 0 || cmd >= numCommands {
		return
	}
	m.CommandOps[backend][cmd].Add(1)
	if !success {
		m.CommandErrors[backend][cmd].Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// RecordSession records whether a backend's OpenSession succeeded.
func (m *Metrics) RecordSession(success bool) {
	if success {
		m.SessionsOpened.Add(1)
	} else {
		m.SessionsFailed.Add(1)
	}
}

// RecordCoverage records one post-execute coverage scan and whether it
// surfaced new coverage.
func (m *Metrics) RecordCoverage(newCoverage bool) {
	m.CoverageRuns.Add(1)
	if newCoverage {
		m.CoverageNewHits.Add(1)
	}
}

func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// NoOpObserver discards everything.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSession(string, bool)                   {}
func (NoOpObserver) ObserveCommand(string, string, uint64, bool)   {}
func (NoOpObserver) ObserveCoverage(string, bool)                  {}

// MetricsObserver implements Observer over a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func commandIndex(name string) int {
	switch name {
	case "START":
		return CmdStart
	case "SEND":
		return CmdSend
	case "END":
		return CmdEnd
	case "TERMINATE":
		return CmdTerminate
	default:
		return -1
	}
}

func (o *MetricsObserver) ObserveSession(backend string, success bool) {
	o.metrics.RecordSession(success)
}

func (o *MetricsObserver) ObserveCommand(backend, command string, latencyNs uint64, success bool) {
	o.metrics.RecordCommand(BackendIndex(backend), commandIndex(command), latencyNs, success)
}

func (o *MetricsObserver) ObserveCoverage(backend string, newCoverage bool) {
	o.metrics.RecordCoverage(newCoverage)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
