package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.ObserveGroup(ResultSuccess, 10, time.Millisecond)
	m.ObserveRun(ResultSuccess, 2)
}

func TestSummarize(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveGroup(ResultSuccess, 3, 2*time.Millisecond)
	m.ObserveGroup(ResultSuccess, 2, 4*time.Millisecond)
	m.ObserveGroup(ResultEmpty, 1, time.Millisecond)
	m.ObserveRun(ResultSuccess, 3)

	got, err := Summarize(reg)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	checks := map[string]float64{
		"aquarium_rows_processed_total":                6,
		"aquarium_stress_groups_total":                 3,
		"aquarium_stress_groups_total{result=success}": 2,
		"aquarium_stress_groups_total{result=empty}":   1,
		"aquarium_stress_kernel_seconds_count":         3,
		"aquarium_pipeline_runs_total{result=success}": 1,
		"aquarium_tanks":                               3,
	}
	for name, want := range checks {
		if v, ok := got[name]; !ok || v != want {
			t.Errorf("%s = %v (present=%v), want %v", name, v, ok, want)
		}
	}
	if sum := got["aquarium_stress_kernel_seconds_sum"]; sum < 0.0069 || sum > 0.0071 {
		t.Errorf("kernel seconds sum = %v, want ~0.007", sum)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRun(ResultError, 0)

	path := filepath.Join(t.TempDir(), "aquarium.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"# TYPE aquarium_pipeline_runs_total counter",
		`aquarium_pipeline_runs_total{result="error"} 1`,
		"aquarium_tanks 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}

	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}
