// Package policy implements admission control for operation invocations.
//
// The engine answers one question before any operation runs: is this agent
// allowed to call this operation right now. Decisions combine an allow or
// deny list, a tier restriction, and an optional per-operation call budget,
// with an optional Rego rule for deployments that express policy as code.
// Every denial is recorded permanently with the rule id that produced it.
package policy
