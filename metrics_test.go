package executor

import "testing"

func TestRecordCommand(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(BackendOptee, CmdSend, 1_000_000, true)
	m.RecordCommand(BackendOptee, CmdSend, 500_000, false)
	m.RecordCommand(BackendQSEE, CmdStart, 2_000_000, true)

	if got := m.CommandOps[BackendOptee][CmdSend].Load(); got != 2 {
		t.Errorf("Expected 2 optee SEND ops, got %d", got)
	}
	if got := m.CommandErrors[BackendOptee][CmdSend].Load(); got != 1 {
		t.Errorf("Expected 1 optee SEND error, got %d", got)
	}
	if got := m.CommandOps[BackendQSEE][CmdStart].Load(); got != 1 {
		t.Errorf("Expected 1 qsee START op, got %d", got)
	}
	if got := m.OpCount.Load(); got != 3 {
		t.Errorf("Expected 3 total ops, got %d", got)
	}
}

func TestRecordCommandOutOfRangeIsIgnored(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand(-1, CmdSend, 0, true)
	if got := m.OpCount.Load(); got != 0 {
		t.Errorf("Expected out-of-range backend index to be ignored, got OpCount=%d", got)
	}
}

func TestRecordSession(t *testing.T) {
	m := NewMetrics()
	m.RecordSession(true)
	m.RecordSession(false)

	if got := m.SessionsOpened.Load(); got != 1 {
		t.Errorf("Expected 1 opened session, got %d", got)
	}
	if got := m.SessionsFailed.Load(); got != 1 {
		t.Errorf("Expected 1 failed session, got %d", got)
	}
}

func TestRecordCoverage(t *testing.T) {
	m := NewMetrics()
	m.RecordCoverage(true)
	m.RecordCoverage(false)

	if got := m.CoverageRuns.Load(); got != 2 {
		t.Errorf("Expected 2 coverage runs, got %d", got)
	}
	if got := m.CoverageNewHits.Load(); got != 1 {
		t.Errorf("Expected 1 new-coverage hit, got %d", got)
	}
}

func TestBackendIndex(t *testing.T) {
	cases := map[string]int{
		"optee":   BackendOptee,
		"qsee":    BackendQSEE,
		"tc":      BackendTC,
		"beanpod": BackendBeanpod,
		"bogus":   -1,
	}
	for name, want := range cases {
		if got := BackendIndex(name); got != want {
			t.Errorf("BackendIndex(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsObserverDelegates(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveSession("optee", true)
	o.ObserveCommand("optee", "SEND", 1000, true)
	o.ObserveCoverage("optee", true)

	if got := m.SessionsOpened.Load(); got != 1 {
		t.Errorf("Expected 1 opened session via observer, got %d", got)
	}
	if got := m.CommandOps[BackendOptee][CmdSend].Load(); got != 1 {
		t.Errorf("Expected 1 SEND op via observer, got %d", got)
	}
	if got := m.CoverageNewHits.Load(); got != 1 {
		t.Errorf("Expected 1 coverage hit via observer, got %d", got)
	}
}
