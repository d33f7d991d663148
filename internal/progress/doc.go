// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the run coordinator uses to report sourcing progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, the run history store, or Pub/Sub.
package progress
