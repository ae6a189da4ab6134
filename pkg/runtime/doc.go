// Package runtime contains the execution core: the scoped variable context,
// the input adapter that reconciles composed graphs with stored operation
// signatures, the operation registry, and the graph executor that runs
// every node under governance controls.
//
// The runtime never interprets operation source. It invokes registered
// implementations through a uniform map-in map-out contract and records the
// outcome of every invocation in the audit chain.
package runtime
