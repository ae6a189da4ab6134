package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsAcrossFamilies(t *testing.T) {
	m := NewMetrics()

	m.RecordRun("success", 120*time.Millisecond)
	m.RecordNode("word_count", "success", 5*time.Millisecond)
	m.RecordNode("word_count", "skipped", 0)
	m.RecordRetries("word_count", 2)
	m.RecordRetries("word_count", 0)
	m.RecordPolicyDenial("allow-list-miss")
	m.RecordBreakerTransition("word_count", "open")
	m.RecordAuditEntry("EXECUTE")

	families := []string{
		"sequor_runs_total",
		"sequor_run_duration_seconds",
		"sequor_nodes_total",
		"sequor_node_duration_seconds",
		"sequor_retries_total",
		"sequor_policy_denials_total",
		"sequor_breaker_transitions_total",
		"sequor_audit_entries_total",
	}
	for _, name := range families {
		n, err := testutil.GatherAndCount(m.Registry(), name)
		require.NoError(t, err, name)
		assert.Positive(t, n, name)
	}
}

func TestMetrics_ZeroValuesAreNotCounted(t *testing.T) {
	m := NewMetrics()

	m.RecordRetries("word_count", 0)
	m.RecordNode("word_count", "skipped", 0)

	n, err := testutil.GatherAndCount(m.Registry(), "sequor_retries_total")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = testutil.GatherAndCount(m.Registry(), "sequor_node_duration_seconds")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordRun("success", time.Millisecond)

	n, err := testutil.GatherAndCount(b.Registry(), "sequor_runs_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}
