// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the execution core. Metrics use a dedicated registry so embedding
// applications never collide with the default one.
package telemetry
