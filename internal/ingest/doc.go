// Package ingest reads sensor readings and tank metadata into tables.
//
// Sources are local paths or http(s):// URLs. A ".gz" or ".zst" suffix
// selects transparent decompression (klauspost/compress). The field
// delimiter is taken from the header line: a tab anywhere in it means TSV,
// otherwise comma-separated.
//
// Files are header-driven: columns are matched by name and may appear in any
// order. Unknown columns are ignored. Empty cells and the literals "null",
// "NULL", "NA" and "None" are read as nulls.
//
// The returned table declares exactly the columns the file carried, so
// downstream analyzers choose their code paths from the schema rather than
// from the values.
package ingest
