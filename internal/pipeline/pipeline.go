package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aquariumadventures/aquarium/internal/table"
)

// ErrNoTracker is returned by LogResults when the pipeline has no tracker.
var ErrNoTracker = errors.New("pipeline: no tracker configured")

// Analyzer transforms a table. Implementations must not modify their input;
// returning it unchanged is allowed.
type Analyzer interface {
	Analyze(ctx context.Context, tbl *table.Table) (*table.Table, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, tbl *table.Table) (*table.Table, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, tbl *table.Table) (*table.Table, error) {
	return f(ctx, tbl)
}

// Tracker receives one metric dictionary per call. tracking.Run satisfies it.
type Tracker interface {
	Log(tags map[string]string, values map[string]float64)
}

// Pipeline applies analyzers in order.
type Pipeline struct {
	analyzers []Analyzer
	tracker   Tracker
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracker sets the tracker LogResults reports to.
func WithTracker(t Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// New returns a Pipeline running analyzers in the given order.
func New(analyzers []Analyzer, opts ...Option) *Pipeline {
	p := &Pipeline{analyzers: analyzers}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run feeds tbl through every analyzer and returns the last result. With no
// analyzers, or analyzers that return their input, tbl itself is returned.
// When logResults is set the final table is reported with LogResults.
func (p *Pipeline) Run(ctx context.Context, tbl *table.Table, logResults bool) (*table.Table, error) {
	out := tbl
	for i, a := range p.analyzers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := a.Analyze(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("pipeline: analyzer %d (%T): %w", i, a, err)
		}
		out = next
	}
	if logResults {
		if err := p.LogResults(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LogResults reports one entry per tank, tagged with tank_id and carrying
// stress_score, avg_pH_per_tank and tank_num_readings where the table has
// them, followed by a summary entry tagged scope=summary.
func (p *Pipeline) LogResults(tbl *table.Table) error {
	if p.tracker == nil {
		return ErrNoTracker
	}

	var scores []float64
	groups := tbl.GroupBy()
	for _, g := range groups {
		first := tbl.Rows[g.Index[0]]
		values := make(map[string]float64, 3)
		if tbl.Has(table.ColStressScore) && first.StressScore != nil {
			values[string(table.ColStressScore)] = *first.StressScore
			scores = append(scores, *first.StressScore)
		}
		if tbl.Has(table.ColAvgPH) && first.AvgPH != nil {
			values[string(table.ColAvgPH)] = *first.AvgPH
		}
		if tbl.Has(table.ColTankNumReadings) {
			values[string(table.ColTankNumReadings)] = float64(first.TankNumReadings)
		}
		if len(values) == 0 {
			continue
		}
		p.tracker.Log(map[string]string{"tank_id": strconv.FormatInt(g.TankID, 10)}, values)
	}

	summary := map[string]float64{
		"num_readings": float64(tbl.Len()),
		"num_tanks":    float64(len(groups)),
	}
	if len(scores) > 0 {
		summary["mean_stress_score"] = stat.Mean(scores, nil)
		summary["max_stress_score"] = floats.Max(scores)
	}
	p.tracker.Log(map[string]string{"scope": "summary"}, summary)

	slog.Info("pipeline: results logged", "tanks", len(groups), "scored", len(scores))
	return nil
}
