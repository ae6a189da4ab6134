// Package governance coordinates runtime safety controls for graph execution:
// per-call retry with exponential backoff, per-operation circuit breaking, and
// a run-wide wall-clock budget.
//
// Breakers and the backoff policy are the only state shared across concurrent
// runs; both are safe for concurrent use. The execution guard belongs to a
// single run and is consulted only at node boundaries, so cancellation is
// cooperative and always completes the current node.
package governance
