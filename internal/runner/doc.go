// Package runner wires the packages of this module into one pipeline run:
// read inputs, transform, score stress per tank, evaluate alerts, log to the
// tracking run, then write the result file and optional PostgreSQL table.
package runner
