package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"github.com/aquariumadventures/aquarium/internal/table"
)

func resultTable() *table.Table {
	tbl := table.New(table.ColTankID, table.ColTime, table.ColPH, table.ColFishSpecies, table.ColStressScore)
	tbl.Rows = []table.Row{
		{TankID: 1, Time: "2023-01-01 10:00", PH: table.Float(7.1), FishSpecies: "Guppy", StressScore: table.Float(2.2)},
		{TankID: 2, Time: "2023-01-01 10:05", PH: table.Float(7.5), FishSpecies: "Angelfish, Neon"},
	}
	return tbl
}

const wantCSV = "tank_id,time,pH,fish_species,stress_score\n" +
	"1,2023-01-01 10:00,7.1,Guppy,2.2\n" +
	"2,2023-01-01 10:05,7.5,\"Angelfish, Neon\",\n"

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		format  Format
		comp    Compression
		wantErr bool
	}{
		{"out/results.csv", FormatCSV, CompressNone, false},
		{"results.TSV", FormatTSV, CompressNone, false},
		{"results.csv.gz", FormatCSV, CompressGzip, false},
		{"results.tsv.zst", FormatTSV, CompressZstd, false},
		{"results.xlsx", FormatXLSX, CompressNone, false},
		{"results.xlsx.gz", 0, 0, true},
		{"results.parquet", 0, 0, true},
		{"results", 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			format, comp, err := FormatFor(tc.path)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("err = %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FormatFor: %v", err)
			}
			if format != tc.format || comp != tc.comp {
				t.Errorf("got (%d, %d), want (%d, %d)", format, comp, tc.format, tc.comp)
			}
		})
	}
}

func TestWriteFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.csv")
	if err := WriteFile(path, resultTable()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != wantCSV {
		t.Errorf("content =\n%s\nwant\n%s", data, wantCSV)
	}
	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestWriteFile_TSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.tsv")
	if err := WriteFile(path, resultTable()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[2] != "2\t2023-01-01 10:05\t7.5\tAngelfish, Neon\t" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteFile_Compressed(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		decode func(io.Reader) (io.Reader, error)
	}{
		{"results.csv.gz", func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }},
		{"results.csv.zst", func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name)
			if err := WriteFile(path, resultTable()); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			zr, err := tc.decode(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("decoder: %v", err)
			}
			data, err := io.ReadAll(zr)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if string(data) != wantCSV {
				t.Errorf("content =\n%s", data)
			}
		})
	}
}

func TestWriteFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	if err := WriteFile(path, resultTable()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "tank_id" || rows[0][4] != "stress_score" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "1" || rows[1][2] != "7.1" || rows[1][4] != "2.2" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][3] != "Angelfish, Neon" {
		t.Errorf("row 2 species = %q", rows[2][3])
	}
}

func TestWriteFile_UnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	if err := WriteFile(path, resultTable()); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file created for unknown format")
	}
}

// fakeConn records the statements and copied rows a PostgresWriter issues.
type fakeConn struct {
	execs   []string
	table   pgx.Identifier
	columns []string
	rows    [][]any
	execErr error
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeConn) CopyFrom(_ context.Context, name pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	c.table, c.columns = name, cols
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return int64(len(c.rows)), err
		}
		c.rows = append(c.rows, append([]any(nil), vals...))
	}
	return int64(len(c.rows)), src.Err()
}

func TestPostgresWriter_Write(t *testing.T) {
	conn := &fakeConn{}
	w := NewPostgresWriter(conn, "reports.aquarium_results")

	n, err := w.Write(context.Background(), "run-1", resultTable())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 2 {
		t.Errorf("copied = %d, want 2", n)
	}

	if len(conn.execs) != 2 {
		t.Fatalf("execs = %d, want create and alter", len(conn.execs))
	}
	create := conn.execs[0]
	if !strings.HasPrefix(create, `CREATE TABLE IF NOT EXISTS "reports"."aquarium_results" (run_id text NOT NULL, "tank_id" bigint, "time" text,`) {
		t.Errorf("create = %s", create)
	}
	for _, c := range table.AllColumns() {
		if !strings.Contains(create, `"`+string(c)+`" `) {
			t.Errorf("create lacks column %s", c)
		}
	}
	wantAlter := `ALTER TABLE "reports"."aquarium_results"` +
		` ADD COLUMN IF NOT EXISTS "tank_id" bigint,` +
		` ADD COLUMN IF NOT EXISTS "time" text,` +
		` ADD COLUMN IF NOT EXISTS "pH" double precision,` +
		` ADD COLUMN IF NOT EXISTS "fish_species" text,` +
		` ADD COLUMN IF NOT EXISTS "stress_score" double precision`
	if conn.execs[1] != wantAlter {
		t.Errorf("alter =\n%s\nwant\n%s", conn.execs[1], wantAlter)
	}

	if got := strings.Join(conn.table, "."); got != "reports.aquarium_results" {
		t.Errorf("copy table = %s", got)
	}
	if got := strings.Join(conn.columns, ","); got != "run_id,tank_id,time,pH,fish_species,stress_score" {
		t.Errorf("copy columns = %s", got)
	}
	if conn.rows[0][0] != "run-1" || conn.rows[0][1] != int64(1) || conn.rows[0][5] != 2.2 {
		t.Errorf("row 0 = %v", conn.rows[0])
	}
	if conn.rows[1][5] != nil {
		t.Errorf("null stress_score copied as %v", conn.rows[1][5])
	}
	if err := w.Close(context.Background()); err != nil {
		t.Errorf("Close on borrowed conn: %v", err)
	}
}

func TestPostgresWriter_CreateFails(t *testing.T) {
	conn := &fakeConn{execErr: errors.New("permission denied")}
	_, err := NewPostgresWriter(conn, "aquarium_results").Write(context.Background(), "run-1", resultTable())
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("err = %v, want wrapped create error", err)
	}
	if conn.rows != nil {
		t.Error("rows copied after failed create")
	}
}

var (
	createColumnRE = regexp.MustCompile(`, "([^"]+)" (?:bigint|text|double precision)`)
	addColumnRE    = regexp.MustCompile(`ADD COLUMN IF NOT EXISTS "([^"]+)"`)
)

// schemaConn keeps the column set of one table the way the server would:
// the first CREATE TABLE IF NOT EXISTS wins, ALTER adds columns and COPY
// rejects columns the table does not have.
type schemaConn struct {
	columns map[string]bool
	copied  int64
}

func (c *schemaConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS "):
		if c.columns != nil {
			return pgconn.CommandTag{}, nil
		}
		c.columns = map[string]bool{"run_id": true}
		for _, m := range createColumnRE.FindAllStringSubmatch(sql, -1) {
			c.columns[m[1]] = true
		}
	case strings.HasPrefix(sql, "ALTER TABLE "):
		for _, m := range addColumnRE.FindAllStringSubmatch(sql, -1) {
			c.columns[m[1]] = true
		}
	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected statement %q", sql)
	}
	return pgconn.CommandTag{}, nil
}

func (c *schemaConn) CopyFrom(_ context.Context, _ pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	for _, name := range cols {
		if !c.columns[name] {
			return 0, fmt.Errorf("column %q of relation does not exist", name)
		}
	}
	var n int64
	for src.Next() {
		n++
	}
	c.copied += n
	return n, src.Err()
}

func TestPostgresWriter_ColumnSetChangesBetweenRuns(t *testing.T) {
	conn := &schemaConn{}
	w := NewPostgresWriter(conn, "aquarium_results")

	first := table.New(table.ColTankID, table.ColPH, table.ColTemp, table.ColStressScore)
	first.Rows = []table.Row{{TankID: 1, PH: table.Float(7), Temp: table.Float(25), StressScore: table.Float(0)}}
	if _, err := w.Write(context.Background(), "run-1", first); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	second := table.New(table.ColTankID, table.ColPH, table.ColTemp, table.ColCapacity,
		table.ColFishSpecies, table.ColFishSpeciesNumReadings, table.ColStressScore)
	second.Rows = []table.Row{
		{TankID: 1, PH: table.Float(7), Temp: table.Float(25), Capacity: table.Float(500), FishSpecies: "Guppy", StressScore: table.Float(0)},
		{TankID: 1, PH: table.Float(7), Temp: table.Float(25), Capacity: table.Float(500), FishSpecies: "Neon", StressScore: table.Float(0)},
	}
	if _, err := w.Write(context.Background(), "run-2", second); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if conn.copied != 3 {
		t.Errorf("copied = %d, want 3", conn.copied)
	}
}

func TestPostgresWriter_ExtendsExistingTable(t *testing.T) {
	// A table created with only the raw columns predates the derived ones.
	conn := &schemaConn{columns: map[string]bool{"run_id": true, "tank_id": true, "pH": true}}
	w := NewPostgresWriter(conn, "aquarium_results")

	if _, err := w.Write(context.Background(), "run-1", resultTable()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, c := range []string{"time", "fish_species", "stress_score"} {
		if !conn.columns[c] {
			t.Errorf("column %s not added", c)
		}
	}
	if conn.columns[string(table.ColAvgPH)] {
		t.Error("column absent from the written table was added")
	}
}
