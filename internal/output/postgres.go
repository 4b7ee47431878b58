package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aquariumadventures/aquarium/internal/table"
)

// Conn is the subset of *pgx.Conn (and *pgxpool.Pool) PostgresWriter needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresWriter copies result tables into one PostgreSQL table. Every row
// is stamped with the run id so results of successive runs can coexist.
type PostgresWriter struct {
	conn  Conn
	table pgx.Identifier
	close func(context.Context) error
}

// NewPostgresWriter writes through conn into tableName, which may be
// schema-qualified ("results.aquarium").
func NewPostgresWriter(conn Conn, tableName string) *PostgresWriter {
	return &PostgresWriter{conn: conn, table: pgx.Identifier(strings.Split(tableName, "."))}
}

// ConnectPostgres opens a connection to dsn and returns a writer that owns it.
func ConnectPostgres(ctx context.Context, dsn, tableName string) (*PostgresWriter, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("output: postgres connect: %w", err)
	}
	w := NewPostgresWriter(conn, tableName)
	w.close = conn.Close
	return w, nil
}

// Write creates the destination table when missing and copies every row of
// tbl into it. It returns the number of rows copied.
//
// A new table gets every column a result table can carry. Columns missing
// from a table created by an older schema are added before the copy, so
// runs with different column sets can share one table.
func (w *PostgresWriter) Write(ctx context.Context, runID string, tbl *table.Table) (int64, error) {
	cols := tbl.Columns()
	if _, err := w.conn.Exec(ctx, createTableSQL(w.table, table.AllColumns())); err != nil {
		return 0, fmt.Errorf("output: postgres create %s: %w", w.table.Sanitize(), err)
	}
	if len(cols) > 0 {
		if _, err := w.conn.Exec(ctx, addColumnsSQL(w.table, cols)); err != nil {
			return 0, fmt.Errorf("output: postgres alter %s: %w", w.table.Sanitize(), err)
		}
	}

	names := make([]string, 0, len(cols)+1)
	names = append(names, "run_id")
	for _, c := range cols {
		names = append(names, string(c))
	}

	src := pgx.CopyFromSlice(tbl.Len(), func(i int) ([]any, error) {
		r := tbl.Rows[i]
		vals := make([]any, 0, len(cols)+1)
		vals = append(vals, runID)
		for _, c := range cols {
			vals = append(vals, r.Value(c))
		}
		return vals, nil
	})
	n, err := w.conn.CopyFrom(ctx, w.table, names, src)
	if err != nil {
		return n, fmt.Errorf("output: postgres copy into %s: %w", w.table.Sanitize(), err)
	}
	slog.Info("output: rows copied to postgres", "table", w.table.Sanitize(), "rows", n, "run_id", runID)
	return n, nil
}

// Close closes the connection when the writer owns it.
func (w *PostgresWriter) Close(ctx context.Context) error {
	if w.close == nil {
		return nil
	}
	return w.close(ctx)
}

func createTableSQL(name pgx.Identifier, cols []table.Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(name.Sanitize())
	b.WriteString(" (run_id text NOT NULL")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(columnDef(c))
	}
	b.WriteString(")")
	return b.String()
}

func addColumnsSQL(name pgx.Identifier, cols []table.Column) string {
	var b strings.Builder
	b.WriteString("ALTER TABLE ")
	b.WriteString(name.Sanitize())
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(" ADD COLUMN IF NOT EXISTS ")
		b.WriteString(columnDef(c))
	}
	return b.String()
}

func columnDef(c table.Column) string {
	return pgx.Identifier{string(c)}.Sanitize() + " " + columnType(c)
}

func columnType(c table.Column) string {
	switch c {
	case table.ColTankID, table.ColTankNumReadings, table.ColFishSpeciesNumReadings:
		return "bigint"
	case table.ColTime, table.ColFishSpecies:
		return "text"
	default:
		return "double precision"
	}
}
