package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// Scope identifies a variable's lifetime within a run.
type Scope string

const (
	// ScopeGlobal holds run inputs. Global variables set at construction
	// are read-only for the rest of the run.
	ScopeGlobal Scope = "global"
	// ScopeGraph holds values produced during the run, including node
	// outputs.
	ScopeGraph Scope = "graph"
	// ScopeNode holds values visible only to the current node.
	ScopeNode Scope = "node"
	// ScopeTemporary holds scratch values cleared at every node exit.
	ScopeTemporary Scope = "temporary"
)

// historyLimit bounds the mutation history kept for diagnostics.
const historyLimit = 100

// Variable is a typed entry in the execution context.
type Variable struct {
	Name       string `json:"name"`
	Value      any    `json:"value"`
	DataType   string `json:"dataType"`
	Scope      Scope  `json:"scope"`
	SourceNode string `json:"sourceNode,omitempty"`
	CreatedAt  string `json:"createdAt"`
	ReadOnly   bool   `json:"readOnly"`
}

// Checkpoint is a snapshot of context state taken before a risky section.
type Checkpoint struct {
	ID           string
	Timestamp    time.Time
	variables    map[string]Variable
	nodePosition int
	Reason       string
}

// historyEntry records one context mutation.
type historyEntry struct {
	Action    string `json:"action"`
	Name      string `json:"name,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ExecutionContext is the memory of a single run. It stores scoped
// variables, tracks node outputs for data-flow chaining, and supports
// checkpoint and rollback around risky sections.
//
// An ExecutionContext belongs to one run and is not safe for concurrent
// use; the executor drives it from a single goroutine.
type ExecutionContext struct {
	executionID string
	variables   map[string]Variable
	checkpoints []Checkpoint
	history     []historyEntry
	currentNode string

	nodeOutputs map[string]map[string]any
	nodeOrder   []string
}

// SetOption adjusts a single variable write.
type SetOption func(*Variable)

// WithScope sets the variable's scope (default ScopeGraph).
func WithScope(scope Scope) SetOption {
	return func(v *Variable) { v.Scope = scope }
}

// WithDataType overrides the inferred data type.
func WithDataType(dataType string) SetOption {
	return func(v *Variable) { v.DataType = dataType }
}

// WithSourceNode records which node produced the value.
func WithSourceNode(nodeID string) SetOption {
	return func(v *Variable) { v.SourceNode = nodeID }
}

// AsReadOnly marks the variable immutable for the rest of the run.
func AsReadOnly() SetOption {
	return func(v *Variable) { v.ReadOnly = true }
}

// NewExecutionContext creates a context seeded with the run's initial
// inputs. Initial inputs are stored read-only in the global scope so no
// node can overwrite what the caller supplied.
func NewExecutionContext(initialInputs map[string]any) *ExecutionContext {
	ec := &ExecutionContext{
		executionID: strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		variables:   make(map[string]Variable),
		nodeOutputs: make(map[string]map[string]any),
	}
	for name, value := range initialInputs {
		// Inputs predate every node; Set cannot fail on a fresh context.
		_ = ec.Set(name, value, WithScope(ScopeGlobal), AsReadOnly())
	}
	return ec
}

// ExecutionID returns the unique id for this run.
func (ec *ExecutionContext) ExecutionID() string {
	return ec.executionID
}

// Set writes a variable. Writing over a read-only variable fails with
// domain.ErrReadOnlyVariable and leaves the stored value untouched.
func (ec *ExecutionContext) Set(name string, value any, opts ...SetOption) error {
	if existing, ok := ec.variables[name]; ok && existing.ReadOnly {
		return fmt.Errorf("%w: %s", domain.ErrReadOnlyVariable, name)
	}

	v := Variable{
		Name:       name,
		Value:      value,
		Scope:      ScopeGraph,
		SourceNode: ec.currentNode,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, opt := range opts {
		opt(&v)
	}
	if v.DataType == "" {
		v.DataType = inferDataType(value)
	}

	ec.variables[name] = v
	ec.record(historyEntry{Action: "set", Name: name, Scope: string(v.Scope)})
	return nil
}

// Get returns a variable's value, or nil when absent.
func (ec *ExecutionContext) Get(name string) any {
	v, ok := ec.variables[name]
	if !ok {
		return nil
	}
	return v.Value
}

// GetOr returns a variable's value, or the default when absent.
func (ec *ExecutionContext) GetOr(name string, def any) any {
	v, ok := ec.variables[name]
	if !ok {
		return def
	}
	return v.Value
}

// GetTyped returns the full variable record.
func (ec *ExecutionContext) GetTyped(name string) (Variable, bool) {
	v, ok := ec.variables[name]
	return v, ok
}

// Has reports whether the variable exists.
func (ec *ExecutionContext) Has(name string) bool {
	_, ok := ec.variables[name]
	return ok
}

// Delete removes a variable. Deleting a read-only variable fails with
// domain.ErrReadOnlyVariable; deleting an absent one reports false.
func (ec *ExecutionContext) Delete(name string) (bool, error) {
	v, ok := ec.variables[name]
	if !ok {
		return false, nil
	}
	if v.ReadOnly {
		return false, fmt.Errorf("%w: %s", domain.ErrReadOnlyVariable, name)
	}
	delete(ec.variables, name)
	ec.record(historyEntry{Action: "delete", Name: name})
	return true, nil
}

// SetNodeOutput stores a node's outputs and mirrors each one as a graph
// variable named "<nodeID>.<output>" so downstream nodes can reference it.
func (ec *ExecutionContext) SetNodeOutput(nodeID string, outputs map[string]any) {
	if _, seen := ec.nodeOutputs[nodeID]; !seen {
		ec.nodeOrder = append(ec.nodeOrder, nodeID)
	}
	ec.nodeOutputs[nodeID] = outputs

	for name, value := range outputs {
		// Mirrored names carry the node prefix; collisions with run
		// inputs are not possible.
		_ = ec.Set(nodeID+"."+name, value, WithSourceNode(nodeID))
	}
}

// NodeOutput returns a named output of a node. With an empty outputName it
// returns the sole output value when the node produced exactly one, and the
// whole output map otherwise.
func (ec *ExecutionContext) NodeOutput(nodeID, outputName string) any {
	outputs, ok := ec.nodeOutputs[nodeID]
	if !ok {
		return nil
	}
	if outputName != "" {
		return outputs[outputName]
	}
	if len(outputs) == 1 {
		for _, v := range outputs {
			return v
		}
	}
	return outputs
}

// PreviousOutput returns the most recent node's output for positional
// chaining, or nil before any node has completed.
func (ec *ExecutionContext) PreviousOutput() any {
	if len(ec.nodeOrder) == 0 {
		return nil
	}
	return ec.NodeOutput(ec.nodeOrder[len(ec.nodeOrder)-1], "")
}

// EnterNode marks the start of a node's execution.
func (ec *ExecutionContext) EnterNode(nodeID string) {
	ec.currentNode = nodeID
}

// ExitNode ends the node scope and clears temporary variables.
func (ec *ExecutionContext) ExitNode() {
	for name, v := range ec.variables {
		if v.Scope == ScopeTemporary {
			delete(ec.variables, name)
		}
	}
	ec.currentNode = ""
}

// CurrentNode returns the node currently executing, if any.
func (ec *ExecutionContext) CurrentNode() string {
	return ec.currentNode
}

// CreateCheckpoint snapshots the variable set and node position. The
// returned id is passed to Rollback to restore this state.
func (ec *ExecutionContext) CreateCheckpoint(reason string) string {
	if reason == "" {
		reason = "manual"
	}
	id := fmt.Sprintf("cp_%d_%s", len(ec.checkpoints), time.Now().UTC().Format("150405"))

	snapshot := make(map[string]Variable, len(ec.variables))
	for name, v := range ec.variables {
		v.Value = deepCopyValue(v.Value)
		snapshot[name] = v
	}

	ec.checkpoints = append(ec.checkpoints, Checkpoint{
		ID:           id,
		Timestamp:    time.Now().UTC(),
		variables:    snapshot,
		nodePosition: len(ec.nodeOrder),
		Reason:       reason,
	})
	return id
}

// Rollback restores the context to a previous checkpoint, discarding
// variables and node outputs produced after it. Unknown checkpoint ids
// report false and change nothing.
func (ec *ExecutionContext) Rollback(checkpointID string) bool {
	for i := len(ec.checkpoints) - 1; i >= 0; i-- {
		cp := ec.checkpoints[i]
		if cp.ID != checkpointID {
			continue
		}

		restored := make(map[string]Variable, len(cp.variables))
		for name, v := range cp.variables {
			v.Value = deepCopyValue(v.Value)
			restored[name] = v
		}
		ec.variables = restored

		for _, nodeID := range ec.nodeOrder[cp.nodePosition:] {
			delete(ec.nodeOutputs, nodeID)
		}
		ec.nodeOrder = ec.nodeOrder[:cp.nodePosition]

		ec.record(historyEntry{Action: "rollback", Name: checkpointID})
		return true
	}
	return false
}

// Variables returns a copy of the variable set, optionally filtered by
// scope (empty scope means all).
func (ec *ExecutionContext) Variables(scope Scope) map[string]Variable {
	out := make(map[string]Variable)
	for name, v := range ec.variables {
		if scope == "" || v.Scope == scope {
			out[name] = v
		}
	}
	return out
}

// NodeIDs returns completed node ids in execution order.
func (ec *ExecutionContext) NodeIDs() []string {
	out := make([]string, len(ec.nodeOrder))
	copy(out, ec.nodeOrder)
	return out
}

// Summary returns a serializable overview of the context for diagnostics.
func (ec *ExecutionContext) Summary() map[string]any {
	vars := make(map[string]Variable, len(ec.variables))
	for name, v := range ec.variables {
		vars[name] = v
	}
	return map[string]any{
		"executionId":     ec.executionID,
		"variableCount":   len(ec.variables),
		"nodeCount":       len(ec.nodeOrder),
		"checkpointCount": len(ec.checkpoints),
		"variables":       vars,
		"nodeOutputs":     ec.NodeIDs(),
	}
}

func (ec *ExecutionContext) record(entry historyEntry) {
	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	ec.history = append(ec.history, entry)
	if len(ec.history) > historyLimit {
		ec.history = ec.history[len(ec.history)-historyLimit:]
	}
}

// inferDataType classifies a value for variable metadata.
func inferDataType(value any) string {
	switch value.(type) {
	case nil:
		return "none"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case []byte:
		return "bytes"
	default:
		return "any"
	}
}

// deepCopyValue copies nested maps and slices so a checkpoint cannot be
// mutated through aliases held by later nodes. Scalars are returned as is.
func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = deepCopyValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = deepCopyValue(inner)
		}
		return out
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
