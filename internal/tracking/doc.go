// Package tracking records experiment runs: one Run per pipeline execution,
// identified by a UUID, receiving metric dictionaries through Log.
//
// Run.Log is non-blocking: entries are stamped with a step number and placed
// in a bounded in-memory buffer (default capacity 1000). When the buffer is
// full the oldest entry is evicted so the latest results are always kept.
//
// A background goroutine drains the buffer into a Sink. Transient sink errors
// requeue the entry and back off (truncated exponential, 1s→60s, ±25%
// jitter); errors wrapping ErrPermanent discard the entry immediately.
// Run.Finish stops the drain, makes one final delivery attempt for anything
// still buffered and closes the sink.
//
// Sinks:
//   - MemorySink: keeps entries in memory; used by tests and dry runs
//   - InfluxSink: one point per entry, measurement = project, tags = run_id
//     plus entry tags, fields = values (influxdb-client-go blocking write API)
//   - TextfileSink: latest value per metric as a Prometheus gauge, rewritten
//     atomically for the node_exporter textfile collector
//   - StoreSink: badger-backed offline run store with TTL retention
//   - MultiSink: fan-out; a retried entry only goes to the sinks that failed it
package tracking
