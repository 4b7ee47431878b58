// Package pipeline chains analyzers over a table and reports per-tank results
// to an experiment tracker.
package pipeline
