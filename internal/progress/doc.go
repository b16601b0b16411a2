// Package progress carries scraper run and analyzer lifecycle events from the
// orchestrator to observability and persistence sinks. Emit never blocks the
// caller: events are buffered, batched on a background goroutine and handed to
// each sink with a per-call timeout.
package progress
