package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aquariumadventures/aquarium/internal/compute"
	"github.com/aquariumadventures/aquarium/internal/table"
	"github.com/aquariumadventures/aquarium/internal/transform"
)

type entry struct {
	tags   map[string]string
	values map[string]float64
}

type fakeTracker struct {
	mu      sync.Mutex
	entries []entry
}

func (f *fakeTracker) Log(tags map[string]string, values map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry{tags: tags, values: values})
}

func (f *fakeTracker) hasValue(name string) bool {
	for _, e := range f.entries {
		if _, ok := e.values[name]; ok {
			return true
		}
	}
	return false
}

func sensors() *table.Table {
	tbl := table.New(table.ColTankID, table.ColTime, table.ColPH, table.ColTemp, table.ColQuantity)
	tbl.Rows = []table.Row{
		{TankID: 1, Time: "2025-01-01 00:00", PH: table.Float(7.0), Temp: table.Float(25.0), Quantity: table.Float(500)},
		{TankID: 1, Time: "2025-01-01 01:00", PH: table.Float(7.2), Temp: table.Float(26.0)},
		{TankID: 2, Time: "2025-01-01 00:30", PH: table.Float(7.5), Temp: table.Float(24.5), Quantity: table.Float(1000)},
	}
	return tbl
}

func analyzers() []Analyzer {
	return []Analyzer{
		transform.NewTransformer(nil, transform.StandardTemperature),
		compute.NewEngine(compute.CapacityFromQuantity),
	}
}

func TestPipeline_Chain(t *testing.T) {
	tr := &fakeTracker{}
	out, err := New(analyzers(), WithTracker(tr)).Run(context.Background(), sensors(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Has(table.ColAvgPH) {
		t.Error("missing transformation column")
	}
	if !out.Has(table.ColStressScore) {
		t.Error("missing stress column")
	}
	if !tr.hasValue("stress_score") {
		t.Error("no stress_score entry logged")
	}
}

func TestPipeline_RunWithoutLogging(t *testing.T) {
	tr := &fakeTracker{}
	out, err := New(analyzers(), WithTracker(tr)).Run(context.Background(), sensors(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Has(table.ColAvgPH) || !out.Has(table.ColStressScore) {
		t.Errorf("columns = %v", out.Columns())
	}
	if len(tr.entries) != 0 {
		t.Errorf("entries logged = %d, want 0", len(tr.entries))
	}
}

func TestPipeline_NoopAnalyzersReturnInput(t *testing.T) {
	noop := AnalyzerFunc(func(_ context.Context, tbl *table.Table) (*table.Table, error) { return tbl, nil })
	in := sensors()
	out, err := New([]Analyzer{noop, noop}).Run(context.Background(), in, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != in {
		t.Error("pipeline should return the input table")
	}
}

func TestPipeline_AnalyzerError(t *testing.T) {
	boom := errors.New("boom")
	failing := AnalyzerFunc(func(context.Context, *table.Table) (*table.Table, error) { return nil, boom })
	_, err := New([]Analyzer{failing}).Run(context.Background(), sensors(), false)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestPipeline_LogWithoutTracker(t *testing.T) {
	_, err := New(analyzers()).Run(context.Background(), sensors(), true)
	if !errors.Is(err, ErrNoTracker) {
		t.Errorf("err = %v, want ErrNoTracker", err)
	}
}

func TestLogResults(t *testing.T) {
	tbl := table.New(table.ColTankID, table.ColStressScore)
	tbl.Rows = []table.Row{
		{TankID: 1, StressScore: table.Float(0.5)},
		{TankID: 2, StressScore: table.Float(0.6)},
	}
	tr := &fakeTracker{}
	if err := New(nil, WithTracker(tr)).LogResults(tbl); err != nil {
		t.Fatalf("LogResults: %v", err)
	}
	if len(tr.entries) != 3 {
		t.Fatalf("entries = %d, want 2 tanks + summary", len(tr.entries))
	}
	if tr.entries[0].tags["tank_id"] != "1" || tr.entries[0].values["stress_score"] != 0.5 {
		t.Errorf("first entry = %+v", tr.entries[0])
	}
	if _, ok := tr.entries[0].values["tank_num_readings"]; ok {
		t.Error("tank_num_readings logged for a table without that column")
	}
	sum := tr.entries[2]
	if sum.tags["scope"] != "summary" || sum.values["num_tanks"] != 2 || sum.values["max_stress_score"] != 0.6 {
		t.Errorf("summary = %+v", sum)
	}
	if m := sum.values["mean_stress_score"]; m < 0.5499 || m > 0.5501 {
		t.Errorf("mean_stress_score = %v, want 0.55", m)
	}
}
