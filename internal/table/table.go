package table

import (
	"sort"
	"strconv"
)

// Column is the name of a table column as it appears in input and output files.
type Column string

// Raw sensor columns.
const (
	ColTankID   Column = "tank_id"
	ColTime     Column = "time"
	ColPH       Column = "pH"
	ColTemp     Column = "temp"
	ColQuantity Column = "quantity_liters"
)

// Columns joined from tank info.
const (
	ColCapacity    Column = "capacity_liters"
	ColFishSpecies Column = "fish_species"
)

// Derived columns.
const (
	ColAvgPH                      Column = "avg_pH_per_tank"
	ColTankNumReadings            Column = "tank_num_readings"
	ColFishSpeciesNumReadings     Column = "fish_species_num_readings"
	ColTemperatureDeviation       Column = "temperature_deviation"
	ColTemperatureDeviationScaled Column = "temperature_deviation_scaled"
	ColStressScore                Column = "stress_score"
)

// AllColumns returns every column a table can carry, raw columns first.
func AllColumns() []Column {
	return []Column{
		ColTankID, ColTime, ColPH, ColTemp, ColQuantity,
		ColCapacity, ColFishSpecies,
		ColAvgPH, ColTankNumReadings, ColFishSpeciesNumReadings,
		ColTemperatureDeviation, ColTemperatureDeviationScaled, ColStressScore,
	}
}

// Row is one sensor reading together with every derived value attached to it.
type Row struct {
	TankID   int64
	Time     string
	PH       *float64
	Temp     *float64
	Quantity *float64

	// Set by the tank info join.
	Capacity    *float64
	FishSpecies string

	AvgPH                      *float64
	TankNumReadings            int
	FishSpeciesNumReadings     *int
	TemperatureDeviation       *float64
	TemperatureDeviationScaled *float64
	StressScore                *float64
}

// TankInfo is the static metadata for one tank.
type TankInfo struct {
	TankID      int64
	Capacity    *float64
	FishSpecies []string
}

// Table is an ordered collection of rows and the columns populated on them.
type Table struct {
	Rows []Row
	cols []Column
}

// New returns an empty table with the given columns.
func New(cols ...Column) *Table {
	t := &Table{}
	for _, c := range cols {
		t.AddColumn(c)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Columns returns a copy of the populated columns in order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// Has reports whether column c is populated.
func (t *Table) Has(c Column) bool {
	for _, have := range t.cols {
		if have == c {
			return true
		}
	}
	return false
}

// AddColumn appends c to the column set. Adding an existing column is a no-op.
func (t *Table) AddColumn(c Column) {
	if !t.Has(c) {
		t.cols = append(t.cols, c)
	}
}

// Clone returns a copy whose rows and column set can be modified without
// affecting t. Pointer fields are shared; they are replaced, never written
// through.
func (t *Table) Clone() *Table {
	out := &Table{
		Rows: make([]Row, len(t.Rows)),
		cols: t.Columns(),
	}
	copy(out.Rows, t.Rows)
	return out
}

// Group is the set of row indices sharing one tank id.
type Group struct {
	TankID int64
	Index  []int
}

// GroupBy partitions the rows by tank id. Groups are sorted by TankID and each
// group's indices keep the original row order.
func (t *Table) GroupBy() []Group {
	pos := make(map[int64]int)
	var groups []Group
	for i, r := range t.Rows {
		g, ok := pos[r.TankID]
		if !ok {
			g = len(groups)
			pos[r.TankID] = g
			groups = append(groups, Group{TankID: r.TankID})
		}
		groups[g].Index = append(groups[g].Index, i)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].TankID < groups[b].TankID })
	return groups
}

// Format renders the value of column c for output. Nulls render as "".
func (r Row) Format(c Column) string {
	switch c {
	case ColTankID:
		return strconv.FormatInt(r.TankID, 10)
	case ColTime:
		return r.Time
	case ColPH:
		return formatFloat(r.PH)
	case ColTemp:
		return formatFloat(r.Temp)
	case ColQuantity:
		return formatFloat(r.Quantity)
	case ColCapacity:
		return formatFloat(r.Capacity)
	case ColFishSpecies:
		return r.FishSpecies
	case ColAvgPH:
		return formatFloat(r.AvgPH)
	case ColTankNumReadings:
		return strconv.Itoa(r.TankNumReadings)
	case ColFishSpeciesNumReadings:
		if r.FishSpeciesNumReadings == nil {
			return ""
		}
		return strconv.Itoa(*r.FishSpeciesNumReadings)
	case ColTemperatureDeviation:
		return formatFloat(r.TemperatureDeviation)
	case ColTemperatureDeviationScaled:
		return formatFloat(r.TemperatureDeviationScaled)
	case ColStressScore:
		return formatFloat(r.StressScore)
	default:
		return ""
	}
}

// Value returns the typed value of column c: int64, int, float64, string, or
// nil for a null.
func (r Row) Value(c Column) any {
	switch c {
	case ColTankID:
		return r.TankID
	case ColTime:
		return r.Time
	case ColFishSpecies:
		return r.FishSpecies
	case ColTankNumReadings:
		return r.TankNumReadings
	case ColFishSpeciesNumReadings:
		if r.FishSpeciesNumReadings == nil {
			return nil
		}
		return *r.FishSpeciesNumReadings
	}
	if p := r.floatField(c); p != nil {
		return *p
	}
	return nil
}

func (r Row) floatField(c Column) *float64 {
	switch c {
	case ColPH:
		return r.PH
	case ColTemp:
		return r.Temp
	case ColQuantity:
		return r.Quantity
	case ColCapacity:
		return r.Capacity
	case ColAvgPH:
		return r.AvgPH
	case ColTemperatureDeviation:
		return r.TemperatureDeviation
	case ColTemperatureDeviationScaled:
		return r.TemperatureDeviationScaled
	case ColStressScore:
		return r.StressScore
	}
	return nil
}

// Float returns a pointer to v. Convenience for building nullable fields.
func Float(v float64) *float64 { return &v }

func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
