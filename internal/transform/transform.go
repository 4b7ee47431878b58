package transform

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aquariumadventures/aquarium/internal/table"
)

// StandardTemperature is the reference water temperature in °C.
const StandardTemperature = 26.0

// ErrNoTankInfo is returned by operations that join tank info when none was
// supplied.
var ErrNoTankInfo = errors.New("transform: tank info required")

// DeviationOptions controls AddTemperatureDeviation.
type DeviationOptions struct {
	// Standard is the reference temperature.
	Standard float64
	// ScaleByQuantity also emits temperature_deviation_scaled, the deviation
	// per cubic metre of water.
	ScaleByQuantity bool
}

// Transformer applies all transformations in order. It satisfies
// pipeline.Analyzer.
type Transformer struct {
	tankInfo []table.TankInfo
	standard float64
}

// NewTransformer returns a Transformer. tankInfo may be nil, in which case
// the fish species join is skipped.
func NewTransformer(tankInfo []table.TankInfo, standardTemperature float64) *Transformer {
	return &Transformer{tankInfo: tankInfo, standard: standardTemperature}
}

// AddNumReadingsPerFishSpecies joins the Transformer's tank info.
func (t *Transformer) AddNumReadingsPerFishSpecies(tbl *table.Table) (*table.Table, error) {
	return AddNumReadingsPerFishSpecies(tbl, t.tankInfo)
}

// Analyze runs PerTank followed by PerReading.
func (t *Transformer) Analyze(ctx context.Context, tbl *table.Table) (*table.Table, error) {
	out, err := t.PerTank(ctx, tbl)
	if err != nil {
		return nil, err
	}
	return t.PerReading(ctx, out)
}

// PerTank attaches avg_pH_per_tank, tank_num_readings and, when tank info is
// set, capacity_liters. The row set is unchanged, so a stress score computed
// on its output sees each sensor reading exactly once.
func (t *Transformer) PerTank(ctx context.Context, tbl *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := AddAvgPHPerTank(tbl)
	out = AddNumReadingsPerTank(out)
	if t.tankInfo != nil {
		var err error
		if out, err = JoinCapacity(out, t.tankInfo); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PerReading attaches the fish species columns (when tank info is set) and
// the temperature deviation columns. Scaling by quantity happens when the
// table declares quantity_liters. Every other column, stress_score included,
// is carried onto the exploded rows.
func (t *Transformer) PerReading(ctx context.Context, tbl *table.Table) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := tbl
	if t.tankInfo != nil {
		var err error
		if out, err = AddNumReadingsPerFishSpecies(out, t.tankInfo); err != nil {
			return nil, err
		}
	}
	out = AddTemperatureDeviation(out, DeviationOptions{
		Standard:        t.standard,
		ScaleByQuantity: out.Has(table.ColQuantity),
	})
	slog.Debug("transform: applied", "rows_in", tbl.Len(), "rows_out", out.Len(), "tank_info", t.tankInfo != nil)
	return out, nil
}

// AddAvgPHPerTank sets avg_pH_per_tank to the mean of the non-null pH values
// of each tank. A tank without any pH value gets a null.
func AddAvgPHPerTank(tbl *table.Table) *table.Table {
	out := tbl.Clone()
	out.AddColumn(table.ColAvgPH)
	for _, g := range out.GroupBy() {
		vals := make([]float64, 0, len(g.Index))
		for _, i := range g.Index {
			if p := out.Rows[i].PH; p != nil {
				vals = append(vals, *p)
			}
		}
		var avg *float64
		if len(vals) > 0 {
			avg = table.Float(stat.Mean(vals, nil))
		}
		for _, i := range g.Index {
			out.Rows[i].AvgPH = avg
		}
	}
	return out
}

// AddNumReadingsPerTank sets tank_num_readings to the row count of each tank.
func AddNumReadingsPerTank(tbl *table.Table) *table.Table {
	out := tbl.Clone()
	out.AddColumn(table.ColTankNumReadings)
	for _, g := range out.GroupBy() {
		for _, i := range g.Index {
			out.Rows[i].TankNumReadings = len(g.Index)
		}
	}
	return out
}

// JoinCapacity left-joins the capacity of tankInfo on tank_id without
// exploding by species. Tanks without info, or without a capacity, keep
// whatever capacity_liters the row already had.
func JoinCapacity(tbl *table.Table, tankInfo []table.TankInfo) (*table.Table, error) {
	if tankInfo == nil {
		return nil, ErrNoTankInfo
	}
	capacity := make(map[int64]*float64, len(tankInfo))
	for _, info := range tankInfo {
		if info.Capacity != nil {
			capacity[info.TankID] = info.Capacity
		}
	}
	out := tbl.Clone()
	out.AddColumn(table.ColCapacity)
	for i := range out.Rows {
		if c, ok := capacity[out.Rows[i].TankID]; ok {
			out.Rows[i].Capacity = c
		}
	}
	return out, nil
}

// AddNumReadingsPerFishSpecies left-joins tankInfo on tank_id, explodes each
// reading into one row per fish species of its tank and sets
// fish_species_num_readings to the number of exploded rows per species.
//
// The join also sets capacity_liters. Readings of tanks without info, or whose
// tank lists no species, stay as a single row with a null species and count.
func AddNumReadingsPerFishSpecies(tbl *table.Table, tankInfo []table.TankInfo) (*table.Table, error) {
	if tankInfo == nil {
		return nil, ErrNoTankInfo
	}
	byTank := make(map[int64]table.TankInfo, len(tankInfo))
	for _, info := range tankInfo {
		byTank[info.TankID] = info
	}

	out := table.New(tbl.Columns()...)
	out.AddColumn(table.ColCapacity)
	out.AddColumn(table.ColFishSpecies)
	out.AddColumn(table.ColFishSpeciesNumReadings)
	out.Rows = make([]table.Row, 0, tbl.Len())

	for _, r := range tbl.Rows {
		info, ok := byTank[r.TankID]
		if ok && info.Capacity != nil {
			r.Capacity = info.Capacity
		}
		if !ok || len(info.FishSpecies) == 0 {
			r.FishSpecies = ""
			out.Rows = append(out.Rows, r)
			continue
		}
		for _, species := range info.FishSpecies {
			r.FishSpecies = species
			out.Rows = append(out.Rows, r)
		}
	}

	counts := make(map[string]int)
	for _, r := range out.Rows {
		if r.FishSpecies != "" {
			counts[r.FishSpecies]++
		}
	}
	for i := range out.Rows {
		out.Rows[i].FishSpeciesNumReadings = nil
		if s := out.Rows[i].FishSpecies; s != "" {
			n := counts[s]
			out.Rows[i].FishSpeciesNumReadings = &n
		}
	}
	return out, nil
}

// AddTemperatureDeviation sets temperature_deviation = |temp - Standard|.
// With ScaleByQuantity it also sets temperature_deviation_scaled =
// deviation / (quantity_liters / 1000), null when the quantity is null or
// zero.
func AddTemperatureDeviation(tbl *table.Table, opts DeviationOptions) *table.Table {
	out := tbl.Clone()
	out.AddColumn(table.ColTemperatureDeviation)
	if opts.ScaleByQuantity {
		out.AddColumn(table.ColTemperatureDeviationScaled)
	}
	for i := range out.Rows {
		r := &out.Rows[i]
		r.TemperatureDeviation = nil
		r.TemperatureDeviationScaled = nil
		if r.Temp == nil {
			continue
		}
		dev := math.Abs(*r.Temp - opts.Standard)
		r.TemperatureDeviation = &dev
		if opts.ScaleByQuantity && r.Quantity != nil && *r.Quantity != 0 {
			r.TemperatureDeviationScaled = table.Float(dev / (*r.Quantity / 1000))
		}
	}
	return out
}
