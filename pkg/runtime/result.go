package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus classifies the outcome of a run or a single node.
type ExecutionStatus string

const (
	StatusSuccess        ExecutionStatus = "success"
	StatusPartialSuccess ExecutionStatus = "partial_success"
	StatusFailed         ExecutionStatus = "failed"
	StatusTimeout        ExecutionStatus = "timeout"
	StatusCancelled      ExecutionStatus = "cancelled"
	StatusSkipped        ExecutionStatus = "skipped"
)

// ExecutionTrace records one node's invocation: what ran, with which
// inputs, what came out, and how it failed if it did. Traces are built
// during the run and frozen inside the final result.
type ExecutionTrace struct {
	NodeID        string          `json:"nodeId"`
	OperationName string          `json:"operationName"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
	DurationMs    float64         `json:"durationMs"`
	Inputs        map[string]any  `json:"inputs,omitempty"`
	Outputs       map[string]any  `json:"outputs,omitempty"`
	Error         string          `json:"error,omitempty"`
	RetryCount    int             `json:"retryCount"`
	SkippedReason string          `json:"skippedReason,omitempty"`
}

// ExecutionResult is the complete, read-only record of one run. It is
// built once when the run finishes and never mutated afterward.
type ExecutionResult struct {
	ExecutionID     string           `json:"executionId"`
	Query           string           `json:"query,omitempty"`
	Status          ExecutionStatus  `json:"status"`
	StartedAt       time.Time        `json:"startedAt"`
	CompletedAt     time.Time        `json:"completedAt"`
	TotalDurationMs float64          `json:"totalDurationMs"`
	Traces          []ExecutionTrace `json:"traces"`
	FinalOutputs    map[string]any   `json:"finalOutputs,omitempty"`
	Error           string           `json:"error,omitempty"`
	NodesExecuted   int              `json:"nodesExecuted"`
	NodesSucceeded  int              `json:"nodesSucceeded"`
	NodesFailed     int              `json:"nodesFailed"`
	NodesSkipped    int              `json:"nodesSkipped"`
}

// Finalize fills the per-status counters from the trace list. Called once
// by the executor before the result is handed to the caller.
func (r *ExecutionResult) Finalize() {
	r.NodesExecuted = len(r.Traces)
	r.NodesSucceeded = 0
	r.NodesFailed = 0
	r.NodesSkipped = 0
	for _, t := range r.Traces {
		switch t.Status {
		case StatusSuccess:
			r.NodesSucceeded++
		case StatusFailed:
			r.NodesFailed++
		case StatusSkipped:
			r.NodesSkipped++
		}
	}
}

// IsSuccess reports whether every node succeeded.
func (r *ExecutionResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsPartial reports whether some but not all nodes succeeded.
func (r *ExecutionResult) IsPartial() bool {
	return r.Status == StatusPartialSuccess
}

// SuccessRate returns the fraction of traced nodes that succeeded.
func (r *ExecutionResult) SuccessRate() float64 {
	if r.NodesExecuted == 0 {
		return 0
	}
	return float64(r.NodesSucceeded) / float64(r.NodesExecuted)
}

// Trace returns the trace for a node id, if present.
func (r *ExecutionResult) Trace(nodeID string) (ExecutionTrace, bool) {
	for _, t := range r.Traces {
		if t.NodeID == nodeID {
			return t, true
		}
	}
	return ExecutionTrace{}, false
}

// Output returns a final output value, or the default when absent.
func (r *ExecutionResult) Output(key string, def any) any {
	if v, ok := r.FinalOutputs[key]; ok {
		return v
	}
	return def
}

// FirstError returns the earliest node error in trace order, prefixed with
// the operation name, or the run-level error when no node failed.
func (r *ExecutionResult) FirstError() string {
	for _, t := range r.Traces {
		if t.Error != "" {
			return fmt.Sprintf("%s: %s", t.OperationName, t.Error)
		}
	}
	return r.Error
}

// PerformanceSummary aggregates per-node timings.
type PerformanceSummary struct {
	TotalMs     float64 `json:"totalMs"`
	Nodes       int     `json:"nodes"`
	AvgNodeMs   float64 `json:"avgNodeMs,omitempty"`
	MaxNodeMs   float64 `json:"maxNodeMs,omitempty"`
	MinNodeMs   float64 `json:"minNodeMs,omitempty"`
	SlowestNode string  `json:"slowestNode,omitempty"`
}

// Performance computes timing statistics across the run's traces.
func (r *ExecutionResult) Performance() PerformanceSummary {
	summary := PerformanceSummary{TotalMs: r.TotalDurationMs, Nodes: len(r.Traces)}
	if len(r.Traces) == 0 {
		return summary
	}

	var total float64
	summary.MinNodeMs = r.Traces[0].DurationMs
	for _, t := range r.Traces {
		total += t.DurationMs
		if t.DurationMs > summary.MaxNodeMs {
			summary.MaxNodeMs = t.DurationMs
			summary.SlowestNode = t.OperationName
		}
		if t.DurationMs < summary.MinNodeMs {
			summary.MinNodeMs = t.DurationMs
		}
	}
	summary.AvgNodeMs = total / float64(len(r.Traces))
	return summary
}

// JSON serializes the result for callers and for persisted run records.
func (r *ExecutionResult) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary renders a human-readable run report for CLI output.
func (r *ExecutionResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution: %s\n", r.ExecutionID)
	if r.Query != "" {
		fmt.Fprintf(&b, "Query: %s\n", r.Query)
	}
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&b, "Duration: %.2fms\n", r.TotalDurationMs)
	fmt.Fprintf(&b, "Nodes: %d/%d succeeded\n", r.NodesSucceeded, r.NodesExecuted)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}

	b.WriteString("\nTrace:\n")
	for _, t := range r.Traces {
		mark := "x"
		if t.Status == StatusSuccess {
			mark = "ok"
		}
		fmt.Fprintf(&b, "  [%s] %s (%.2fms)\n", mark, t.OperationName, t.DurationMs)
		if t.Error != "" {
			fmt.Fprintf(&b, "       error: %s\n", t.Error)
		}
		if t.SkippedReason != "" {
			fmt.Fprintf(&b, "       skipped: %s\n", t.SkippedReason)
		}
	}

	if len(r.FinalOutputs) > 0 {
		b.WriteString("\nFinal Outputs:\n")
		for key, value := range r.FinalOutputs {
			s := fmt.Sprintf("%v", value)
			if len(s) > 50 {
				s = s[:50] + "..."
			}
			fmt.Fprintf(&b, "  %s: %s\n", key, s)
		}
	}
	return b.String()
}
