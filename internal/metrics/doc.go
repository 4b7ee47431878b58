// Package metrics instruments the stress pipeline with Prometheus collectors.
//
// New registers the collectors on a caller-supplied Registerer so tests and
// watch-mode runs can use a private registry. WriteTextfile exports a gathered
// registry for the node_exporter textfile collector; Summarize flattens it
// into plain name/value pairs for the experiment-tracking run.
package metrics
