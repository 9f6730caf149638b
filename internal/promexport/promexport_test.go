package promexport

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveCommandIncrementsCounter(t *testing.T) {
	e := New()
	e.ObserveCommand("optee", "SEND", 1_500_000, true)
	e.ObserveCommand("optee", "SEND", 2_500_000, false)

	metrics, err := e.registry.Gather()
	require.NoError(t, err)

	found := findMetricFamily(metrics, "executor_commands_total")
	require.NotNil(t, found)
	require.Len(t, found.Metric, 2)
}

func TestObserveSessionAndCoverage(t *testing.T) {
	e := New()
	e.ObserveSession("qsee", true)
	e.ObserveCoverage("qsee", true)

	metrics, err := e.registry.Gather()
	require.NoError(t, err)

	require.NotNil(t, findMetricFamily(metrics, "executor_sessions_total"))
	require.NotNil(t, findMetricFamily(metrics, "executor_coverage_scans_total"))
}

func findMetricFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}
