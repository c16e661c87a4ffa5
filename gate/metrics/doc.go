// Package metrics exposes Prometheus instrumentation for the verification gate.
//
// Metrics are registered against an explicit registry so tests can use a fresh
// one per case. Every Record method tolerates a nil receiver, which lets
// components treat metrics as optional.
package metrics
