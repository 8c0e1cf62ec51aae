// Package export serializes instrumentation into immutable metric sample
// batches and hands them to transports without ever blocking the measured
// system.
//
// Each export cycle snapshots the registry and every registered channel's
// depth/overflow counters into a Batch of flat (unit, metric, value,
// timestamp) samples. Batches flow through a bounded buffer to the
// configured sinks; when a sink is slower than the cycle rate the buffer
// fills and whole batches are dropped, counted by the exporter's own drop
// counter.
//
// Two transports ship with the runtime: the Prometheus bridge for pull
// scraping and an HTTP push sink with retry, gzip, and rate pacing.
package export
