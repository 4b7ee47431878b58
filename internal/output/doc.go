// Package output writes result tables.
//
// WriteFile picks the format from the file name: .csv and .tsv, each
// optionally followed by .gz or .zst, or .xlsx (one sheet named "results").
// Columns appear in the table's column order and nulls are written as empty
// cells. Files are written to a temporary name in the same directory and
// renamed into place, so readers never see a partial file.
//
// PostgresWriter copies a table into PostgreSQL with COPY, creating the
// destination table on first use.
package output
