package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionResult_Finalize(t *testing.T) {
	r := &ExecutionResult{
		Traces: []ExecutionTrace{
			{NodeID: "a", Status: StatusSuccess},
			{NodeID: "b", Status: StatusFailed, Error: "boom"},
			{NodeID: "c", Status: StatusSkipped, SkippedReason: "circuit breaker open"},
			{NodeID: "d", Status: StatusSuccess},
		},
	}
	r.Finalize()

	assert.Equal(t, 4, r.NodesExecuted)
	assert.Equal(t, 2, r.NodesSucceeded)
	assert.Equal(t, 1, r.NodesFailed)
	assert.Equal(t, 1, r.NodesSkipped)
	assert.Equal(t, 0.5, r.SuccessRate())
}

func TestExecutionResult_SuccessRateEmpty(t *testing.T) {
	r := &ExecutionResult{}
	r.Finalize()
	assert.Equal(t, 0.0, r.SuccessRate())
}

func TestExecutionResult_TraceLookupAndOutput(t *testing.T) {
	r := &ExecutionResult{
		Traces: []ExecutionTrace{
			{NodeID: "upper", OperationName: "to_uppercase", Status: StatusSuccess},
		},
		FinalOutputs: map[string]any{"result": "HELLO"},
	}

	tr, ok := r.Trace("upper")
	require.True(t, ok)
	assert.Equal(t, "to_uppercase", tr.OperationName)

	_, ok = r.Trace("absent")
	assert.False(t, ok)

	assert.Equal(t, "HELLO", r.Output("result", nil))
	assert.Equal(t, "fallback", r.Output("missing", "fallback"))
}

func TestExecutionResult_FirstError(t *testing.T) {
	r := &ExecutionResult{
		Error: "run timeout",
		Traces: []ExecutionTrace{
			{NodeID: "a", OperationName: "to_uppercase", Status: StatusSuccess},
			{NodeID: "b", OperationName: "word_count", Status: StatusFailed, Error: "bad input"},
			{NodeID: "c", OperationName: "mask_email", Status: StatusFailed, Error: "later failure"},
		},
	}
	assert.Equal(t, "word_count: bad input", r.FirstError())

	r.Traces = nil
	assert.Equal(t, "run timeout", r.FirstError())
}

func TestExecutionResult_Performance(t *testing.T) {
	r := &ExecutionResult{
		TotalDurationMs: 60,
		Traces: []ExecutionTrace{
			{OperationName: "fast", DurationMs: 5},
			{OperationName: "slow", DurationMs: 40},
			{OperationName: "mid", DurationMs: 15},
		},
	}
	p := r.Performance()

	assert.Equal(t, 60.0, p.TotalMs)
	assert.Equal(t, 3, p.Nodes)
	assert.Equal(t, 20.0, p.AvgNodeMs)
	assert.Equal(t, 40.0, p.MaxNodeMs)
	assert.Equal(t, 5.0, p.MinNodeMs)
	assert.Equal(t, "slow", p.SlowestNode)
}

func TestExecutionResult_PerformanceEmpty(t *testing.T) {
	r := &ExecutionResult{TotalDurationMs: 1}
	p := r.Performance()
	assert.Equal(t, 1.0, p.TotalMs)
	assert.Equal(t, 0, p.Nodes)
	assert.Empty(t, p.SlowestNode)
}

func TestExecutionResult_JSONRoundTrip(t *testing.T) {
	r := &ExecutionResult{
		ExecutionID: "abc123def456",
		Status:      StatusPartialSuccess,
		Traces: []ExecutionTrace{
			{NodeID: "n1", OperationName: "to_uppercase", Status: StatusSuccess, RetryCount: 1},
		},
		FinalOutputs: map[string]any{"result": "X"},
	}
	r.Finalize()

	data, err := r.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc123def456", decoded["executionId"])
	assert.Equal(t, "partial_success", decoded["status"])
	assert.Equal(t, float64(1), decoded["nodesSucceeded"])
}

func TestExecutionResult_Summary(t *testing.T) {
	r := &ExecutionResult{
		ExecutionID: "abc123def456",
		Query:       "uppercase then count",
		Status:      StatusPartialSuccess,
		Traces: []ExecutionTrace{
			{NodeID: "n1", OperationName: "to_uppercase", Status: StatusSuccess, DurationMs: 1.2},
			{NodeID: "n2", OperationName: "word_count", Status: StatusFailed, Error: "boom", DurationMs: 0.4},
			{NodeID: "n3", OperationName: "mask_email", Status: StatusSkipped, SkippedReason: "circuit breaker open"},
		},
		FinalOutputs: map[string]any{"long": string(make([]byte, 80))},
	}
	r.Finalize()

	s := r.Summary()
	assert.Contains(t, s, "abc123def456")
	assert.Contains(t, s, "Status: PARTIAL_SUCCESS")
	assert.Contains(t, s, "[ok] to_uppercase")
	assert.Contains(t, s, "[x] word_count")
	assert.Contains(t, s, "error: boom")
	assert.Contains(t, s, "skipped: circuit breaker open")
	assert.Contains(t, s, "...", "long outputs are truncated")
}
