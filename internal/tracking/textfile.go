package tracking

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquariumadventures/aquarium/internal/metrics"
)

// TextfileSink keeps the latest value of every tracked metric as a gauge and
// rewrites a Prometheus text exposition file after each entry.
type TextfileSink struct {
	path string

	mu    sync.Mutex
	reg   *prometheus.Registry
	value *prometheus.GaugeVec
	step  *prometheus.GaugeVec
}

// NewTextfileSink returns a sink writing to path, typically inside a
// node_exporter textfile collector directory.
func NewTextfileSink(path string) *TextfileSink {
	s := &TextfileSink{
		path: path,
		reg:  prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aquarium_tracked_value",
			Help: "Latest value logged to the tracking run.",
		}, []string{"project", "run_id", "metric", "tank_id"}),
		step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aquarium_tracked_step",
			Help: "Step number of the latest tracking entry.",
		}, []string{"project", "run_id"}),
	}
	s.reg.MustRegister(s.value, s.step)
	return s
}

// Write updates the gauges for e and rewrites the file.
func (s *TextfileSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tank := e.Tags["tank_id"]
	for name, v := range e.Values {
		s.value.WithLabelValues(e.Project, e.RunID, name, tank).Set(v)
	}
	s.step.WithLabelValues(e.Project, e.RunID).Set(float64(e.Step))

	if err := metrics.WriteTextfile(s.path, s.reg); err != nil {
		return fmt.Errorf("tracking: textfile: %w", err)
	}
	return nil
}

// Close is a no-op; the file keeps the final values.
func (s *TextfileSink) Close() error { return nil }
