package domain

// GraphNode is one step of a composed graph. Immutable once composed: the
// executor reads nodes but never rewrites them.
type GraphNode struct {
	// OperationID is the content-derived identity of the operation to run.
	OperationID string `json:"operation_id" yaml:"operation_id"`
	// OperationName is the human-readable operation name, used for policy
	// checks and audit entries.
	OperationName string `json:"operation_name" yaml:"operation_name"`
	// Position is the node's index in composed order.
	Position int `json:"position" yaml:"position"`
	// Upstream lists the node ids whose outputs feed this node. Empty means
	// positional chaining from the most recent output.
	Upstream []string `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	// Provenance records why the composer selected this operation.
	Provenance string `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

// Graph is a composed sequence of nodes produced by the external composer.
// The core executes it verbatim; Valid and Diagnostics are surfaced to
// callers without interpretation.
type Graph struct {
	Query       string      `json:"query,omitempty" yaml:"query,omitempty"`
	Nodes       []GraphNode `json:"nodes" yaml:"nodes"`
	Valid       bool        `json:"valid" yaml:"valid"`
	Diagnostics []string    `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}
