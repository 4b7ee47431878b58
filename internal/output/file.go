package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"github.com/aquariumadventures/aquarium/internal/table"
)

// SheetName is the worksheet XLSX output is written to.
const SheetName = "results"

// ErrUnknownFormat is returned for file names without a supported extension.
var ErrUnknownFormat = errors.New("output: unknown file format")

// Format is a result file layout.
type Format int

const (
	FormatCSV Format = iota
	FormatTSV
	FormatXLSX
)

// Compression is the stream compression applied to delimited output.
type Compression int

const (
	CompressNone Compression = iota
	CompressGzip
	CompressZstd
)

// FormatFor derives the format and compression from path's extensions.
func FormatFor(path string) (Format, Compression, error) {
	name := strings.ToLower(filepath.Base(path))
	comp := CompressNone
	switch {
	case strings.HasSuffix(name, ".gz"):
		comp, name = CompressGzip, strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".zst"):
		comp, name = CompressZstd, strings.TrimSuffix(name, ".zst")
	}
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, comp, nil
	case ".tsv":
		return FormatTSV, comp, nil
	case ".xlsx":
		if comp != CompressNone {
			return 0, 0, fmt.Errorf("%w: compressed xlsx %q", ErrUnknownFormat, path)
		}
		return FormatXLSX, comp, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// WriteFile writes tbl to path in the format its name selects.
func WriteFile(path string, tbl *table.Table) error {
	format, comp, err := FormatFor(path)
	if err != nil {
		return err
	}
	err = writeAtomic(path, func(w io.Writer) error {
		if format == FormatXLSX {
			return writeXLSX(w, tbl)
		}
		return writeDelimited(w, tbl, format, comp)
	})
	if err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// writeAtomic streams into a temporary file beside path and renames it over
// path once fill succeeds.
func writeAtomic(path string, fill func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeDelimited(w io.Writer, tbl *table.Table, format Format, comp Compression) error {
	var zc io.WriteCloser
	switch comp {
	case CompressGzip:
		zc = gzip.NewWriter(w)
	case CompressZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		zc = enc
	}
	if zc != nil {
		w = zc
	}

	cw := csv.NewWriter(w)
	if format == FormatTSV {
		cw.Comma = '\t'
	}
	cols := tbl.Columns()
	record := make([]string, len(cols))
	for i, c := range cols {
		record[i] = string(c)
	}
	if err := cw.Write(record); err != nil {
		return err
	}
	for _, r := range tbl.Rows {
		for i, c := range cols {
			record[i] = r.Format(c)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if zc != nil {
		return zc.Close()
	}
	return nil
}

func writeXLSX(w io.Writer, tbl *table.Table) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	cols := tbl.Columns()
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = string(c)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	values := make([]interface{}, len(cols))
	for n, r := range tbl.Rows {
		for i, c := range cols {
			values[i] = r.Value(c)
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
