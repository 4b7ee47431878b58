package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aquariumadventures/aquarium/internal/table"
)

// Decoding errors.
var (
	ErrMissingColumn = errors.New("ingest: required column missing")
	ErrMalformed     = errors.New("ingest: malformed value")
	ErrDuplicateTank = errors.New("ingest: duplicate tank_id")
)

var defaultReader = NewReader()

// ReadSensors reads sensor readings from src with the default Reader.
func ReadSensors(ctx context.Context, src string) (*table.Table, error) {
	return defaultReader.ReadSensors(ctx, src)
}

// ReadTankInfo reads tank metadata from src with the default Reader.
func ReadTankInfo(ctx context.Context, src string) ([]table.TankInfo, error) {
	return defaultReader.ReadTankInfo(ctx, src)
}

// ReadSensors reads sensor readings. tank_id, pH and temp are required; time,
// quantity_liters and capacity_liters are optional and declared on the table
// only when the file carries them.
func (r *Reader) ReadSensors(ctx context.Context, src string) (*table.Table, error) {
	rc, err := r.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tbl, err := DecodeSensors(rc)
	if err != nil {
		return nil, fmt.Errorf("ingest: sensors %s: %w", src, err)
	}
	slog.Info("ingest: sensors loaded", "source", src, "rows", tbl.Len(), "columns", len(tbl.Columns()))
	return tbl, nil
}

// ReadTankInfo reads tank metadata. tank_id is required; capacity_liters and
// fish_species are optional. fish_species is a comma-separated list.
func (r *Reader) ReadTankInfo(ctx context.Context, src string) ([]table.TankInfo, error) {
	rc, err := r.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	info, err := DecodeTankInfo(rc)
	if err != nil {
		return nil, fmt.Errorf("ingest: tank info %s: %w", src, err)
	}
	slog.Info("ingest: tank info loaded", "source", src, "tanks", len(info))
	return info, nil
}

// DecodeSensors decodes delimited sensor readings from r.
func DecodeSensors(r io.Reader) (*table.Table, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	if err := d.require(table.ColTankID, table.ColPH, table.ColTemp); err != nil {
		return nil, err
	}

	tbl := table.New(table.ColTankID)
	for _, c := range []table.Column{table.ColTime, table.ColPH, table.ColTemp, table.ColQuantity, table.ColCapacity} {
		if d.has(c) {
			tbl.AddColumn(c)
		}
	}

	for {
		rec, err := d.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var row table.Row
		if row.TankID, err = rec.intField(table.ColTankID); err != nil {
			return nil, err
		}
		row.Time = rec.str(table.ColTime)
		if row.PH, err = rec.floatField(table.ColPH); err != nil {
			return nil, err
		}
		if row.Temp, err = rec.floatField(table.ColTemp); err != nil {
			return nil, err
		}
		if row.Quantity, err = rec.floatField(table.ColQuantity); err != nil {
			return nil, err
		}
		if row.Capacity, err = rec.floatField(table.ColCapacity); err != nil {
			return nil, err
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	return tbl, nil
}

// DecodeTankInfo decodes delimited tank metadata from r. Tank ids must be
// unique. The result is never nil on success, so an empty file still counts as
// tank info having been supplied.
func DecodeTankInfo(r io.Reader) ([]table.TankInfo, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	if err := d.require(table.ColTankID); err != nil {
		return nil, err
	}

	out := make([]table.TankInfo, 0)
	seen := make(map[int64]int)
	for {
		rec, err := d.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var info table.TankInfo
		if info.TankID, err = rec.intField(table.ColTankID); err != nil {
			return nil, err
		}
		if line, dup := seen[info.TankID]; dup {
			return nil, fmt.Errorf("%w: %d on line %d, first seen on line %d",
				ErrDuplicateTank, info.TankID, rec.line, line)
		}
		seen[info.TankID] = rec.line
		if info.Capacity, err = rec.floatField(table.ColCapacity); err != nil {
			return nil, err
		}
		info.FishSpecies = splitSpecies(rec.str(table.ColFishSpecies))
		out = append(out, info)
	}
	return out, nil
}

func splitSpecies(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decoder maps header names to field positions over a csv.Reader.
type decoder struct {
	cr  *csv.Reader
	pos map[table.Column]int
}

func newDecoder(r io.Reader) (*decoder, error) {
	delim, r, err := sniffDelimiter(r)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	d := &decoder{cr: cr, pos: make(map[table.Column]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		d.pos[table.Column(name)] = i
	}
	return d, nil
}

func (d *decoder) has(c table.Column) bool {
	_, ok := d.pos[c]
	return ok
}

func (d *decoder) require(cols ...table.Column) error {
	var missing []string
	for _, c := range cols {
		if !d.has(c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func (d *decoder) next() (record, error) {
	fields, err := d.cr.Read()
	if err != nil {
		if err == io.EOF {
			return record{}, err
		}
		return record{}, fmt.Errorf("read record: %w", err)
	}
	line, _ := d.cr.FieldPos(0)
	return record{d: d, fields: fields, line: line}, nil
}

// record is one data line. Its fields are only valid until the next call to
// decoder.next.
type record struct {
	d      *decoder
	fields []string
	line   int
}

// str returns the raw cell for c, or "" when the column is absent or null.
func (r record) str(c table.Column) string {
	i, ok := r.d.pos[c]
	if !ok || i >= len(r.fields) {
		return ""
	}
	v := strings.TrimSpace(r.fields[i])
	if isNull(v) {
		return ""
	}
	return v
}

func (r record) floatField(c table.Column) (*float64, error) {
	s := r.str(c)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d column %s: %q", ErrMalformed, r.line, c, s)
	}
	return &v, nil
}

func (r record) intField(c table.Column) (int64, error) {
	s := r.str(c)
	if s == "" {
		return 0, fmt.Errorf("%w: line %d column %s: null", ErrMalformed, r.line, c)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d column %s: %q", ErrMalformed, r.line, c, s)
	}
	return v, nil
}

func isNull(s string) bool {
	switch s {
	case "", "null", "NULL", "NA", "None":
		return true
	}
	return false
}
