// Package sinks implements concrete lifecycle consumers: Prometheus
// collectors, the run ledger, completion notifications and structured logs.
// Each sink satisfies progress.Sink.
package sinks
