package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aquariumadventures/aquarium/internal/metrics"
	"github.com/aquariumadventures/aquarium/internal/table"
)

// ErrMissingColumn is returned when the table lacks the column selected by the
// engine's CapacitySource.
var ErrMissingColumn = errors.New("compute: capacity column missing")

// CapacitySource selects which column feeds the kernel's capacity array.
type CapacitySource int

const (
	// CapacityFromQuantity uses the per-reading quantity_liters column.
	CapacityFromQuantity CapacitySource = iota
	// CapacityFromTank uses capacity_liters joined from tank info.
	CapacityFromTank
)

// Column returns the table column this source reads.
func (s CapacitySource) Column() table.Column {
	if s == CapacityFromTank {
		return table.ColCapacity
	}
	return table.ColQuantity
}

func (s CapacitySource) String() string { return string(s.Column()) }

// TankResult is the stress outcome for one tank group.
type TankResult struct {
	TankID        int64
	Readings      int      // rows in the group
	ValidReadings int      // rows with pH, temp and capacity all present
	StressScore   *float64 // nil when no row was valid
	Duration      time.Duration
}

// Engine applies the stress kernel to every tank group of a table.
//
// Groups are independent, so they are scored concurrently on a bounded worker
// pool. Results are merged back by tank id.
type Engine struct {
	source  CapacitySource
	workers int
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of tank groups scored concurrently.
// n <= 0 selects runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		e.workers = n
	}
}

// WithMetrics records kernel latency and group outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an Engine reading capacities from source.
func NewEngine(source CapacitySource, opts ...Option) *Engine {
	e := &Engine{source: source, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze attaches the stress_score column. It satisfies pipeline.Analyzer.
func (e *Engine) Analyze(ctx context.Context, tbl *table.Table) (*table.Table, error) {
	out, _, err := e.Apply(ctx, tbl)
	return out, err
}

// Apply scores every tank group of tbl and returns a copy of tbl with the
// stress_score column set on every row, plus the per-tank results sorted by
// tank id.
//
// Rows with a null pH, temp or capacity are left out of the kernel input but
// still receive their group's score. A group with no valid rows gets a null
// score. Kernel errors abort the whole apply.
func (e *Engine) Apply(ctx context.Context, tbl *table.Table) (*table.Table, []TankResult, error) {
	capCol := e.source.Column()
	if !tbl.Has(capCol) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, capCol)
	}

	groups := tbl.GroupBy()
	results := make([]TankResult, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.scoreGroup(tbl, grp)
			if err != nil {
				return fmt.Errorf("compute: tank %d: %w", grp.TankID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byTank := make(map[int64]*float64, len(results))
	for _, res := range results {
		byTank[res.TankID] = res.StressScore
	}

	out := tbl.Clone()
	out.AddColumn(table.ColStressScore)
	for i := range out.Rows {
		if s := byTank[out.Rows[i].TankID]; s != nil {
			out.Rows[i].StressScore = table.Float(*s)
		} else {
			out.Rows[i].StressScore = nil
		}
	}
	return out, results, nil
}

// scoreGroup extracts the valid readings of one group into flat arrays and
// runs the kernel over them.
func (e *Engine) scoreGroup(tbl *table.Table, grp table.Group) (TankResult, error) {
	start := time.Now()
	res := TankResult{TankID: grp.TankID, Readings: len(grp.Index)}

	ph := make([]float64, 0, len(grp.Index))
	temp := make([]float64, 0, len(grp.Index))
	capacity := make([]float64, 0, len(grp.Index))
	for _, idx := range grp.Index {
		r := &tbl.Rows[idx]
		c := r.Quantity
		if e.source == CapacityFromTank {
			c = r.Capacity
		}
		if r.PH == nil || r.Temp == nil || c == nil {
			continue
		}
		ph = append(ph, *r.PH)
		temp = append(temp, *r.Temp)
		capacity = append(capacity, *c)
	}
	res.ValidReadings = len(ph)

	if res.ValidReadings == 0 {
		res.Duration = time.Since(start)
		e.metrics.ObserveGroup(metrics.ResultEmpty, res.Readings, res.Duration)
		slog.Warn("compute: no valid readings, stress_score left null",
			"tank_id", grp.TankID, "readings", res.Readings, "capacity_column", e.source.String())
		return res, nil
	}

	score, err := Stress(ph, temp, capacity)
	res.Duration = time.Since(start)
	if err != nil {
		e.metrics.ObserveGroup(metrics.ResultError, res.Readings, res.Duration)
		return res, err
	}
	e.metrics.ObserveGroup(metrics.ResultSuccess, res.Readings, res.Duration)
	res.StressScore = &score

	slog.Debug("compute: tank scored",
		"tank_id", grp.TankID,
		"valid_readings", res.ValidReadings,
		"stress_score", score,
		"elapsed", res.Duration,
	)
	return res, nil
}
