package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquariumadventures/aquarium/internal/alerts"
	"github.com/aquariumadventures/aquarium/internal/compute"
	"github.com/aquariumadventures/aquarium/internal/config"
	"github.com/aquariumadventures/aquarium/internal/ingest"
	"github.com/aquariumadventures/aquarium/internal/metrics"
	"github.com/aquariumadventures/aquarium/internal/output"
	"github.com/aquariumadventures/aquarium/internal/pipeline"
	"github.com/aquariumadventures/aquarium/internal/table"
	"github.com/aquariumadventures/aquarium/internal/tracking"
	"github.com/aquariumadventures/aquarium/internal/transform"
)

const finishTimeout = 10 * time.Second

// Options carries collaborators that outlive a single run or that tests
// replace. The zero value is ready to use.
type Options struct {
	// Sink overrides the tracking sinks built from the config.
	Sink tracking.Sink

	// Alerts keeps alert state across runs. When nil a fresh engine is
	// built from the config for every run.
	Alerts *alerts.Engine

	// Reader overrides the input reader built from the config.
	Reader *ingest.Reader

	// Postgres overrides the connection opened from output.postgres.dsn_env.
	Postgres output.Conn
}

// Report summarizes one pipeline run.
type Report struct {
	RunID      string
	Table      *table.Table
	Tanks      []compute.TankResult
	Alerts     []alerts.Alert
	RowsCopied int64
	Metrics    map[string]float64
}

// RunFullPipeline executes one complete run described by cfg.
func RunFullPipeline(ctx context.Context, cfg *config.Config, opts Options) (rep *Report, err error) {
	start := time.Now()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rep = &Report{}
	var run *tracking.Run
	if cfg.Tracking.Enabled {
		sink := opts.Sink
		if sink == nil {
			if sink, err = tracking.NewSink(cfg.Tracking); err != nil {
				return nil, fmt.Errorf("runner: %w", err)
			}
		}
		run = tracking.Start(ctx, cfg.Tracking.Project, sink, cfg.Tracking.BufferSize)
		rep.RunID = run.ID()
	} else {
		rep.RunID = uuid.NewString()
	}

	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		m.ObserveRun(result, len(rep.Tanks))
		rep.Metrics = finishMetrics(cfg, reg, run)
		if run != nil {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
			defer cancel()
			if ferr := run.Finish(fctx); ferr != nil {
				slog.Error("runner: tracking run incomplete", "run_id", rep.RunID, "err", ferr)
			}
		}
		slog.Info("runner: run finished",
			"run_id", rep.RunID,
			"result", result,
			"tanks", len(rep.Tanks),
			"alerts", len(rep.Alerts),
			"elapsed", time.Since(start),
		)
	}()

	sensors, tankInfo, err := readInputs(ctx, cfg.Pipeline, opts.Reader)
	if err != nil {
		return rep, err
	}

	source, err := capacitySource(cfg.Pipeline, tankInfo != nil)
	if err != nil {
		return rep, err
	}
	engine := compute.NewEngine(source, compute.WithWorkers(cfg.Pipeline.Workers), compute.WithMetrics(m))

	score := pipeline.AnalyzerFunc(func(ctx context.Context, tbl *table.Table) (*table.Table, error) {
		out, results, err := engine.Apply(ctx, tbl)
		rep.Tanks = results
		return out, err
	})
	// Scoring sits between the per-tank and per-reading transforms so the
	// engine sees each sensor reading once; the species explode then carries
	// stress_score onto every exploded row.
	tr := transform.NewTransformer(tankInfo, cfg.Pipeline.StandardTemperature)
	analyzers := []pipeline.Analyzer{
		pipeline.AnalyzerFunc(tr.PerTank),
		score,
		pipeline.AnalyzerFunc(tr.PerReading),
	}
	var popts []pipeline.Option
	if run != nil {
		popts = append(popts, pipeline.WithTracker(run))
	}
	rep.Table, err = pipeline.New(analyzers, popts...).Run(ctx, sensors, run != nil)
	if err != nil {
		return rep, fmt.Errorf("runner: %w", err)
	}

	ae := opts.Alerts
	if ae == nil {
		if ae, err = alerts.New(cfg.Alerts); err != nil {
			return rep, fmt.Errorf("runner: %w", err)
		}
	}
	rep.Alerts = ae.Evaluate(Subjects(rep.Tanks))
	ae.Notify(ctx, rep.Alerts)

	if err := writeOutputs(ctx, cfg, opts.Postgres, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// Subjects converts per-tank stress results into alert subjects.
func Subjects(results []compute.TankResult) []alerts.Subject {
	out := make([]alerts.Subject, 0, len(results))
	for _, r := range results {
		values := map[string]float64{
			alerts.FieldReadings:        float64(r.Readings),
			alerts.FieldValidReadings:   float64(r.ValidReadings),
			alerts.FieldDroppedReadings: float64(r.Readings - r.ValidReadings),
		}
		if r.StressScore != nil {
			values[alerts.FieldStressScore] = *r.StressScore
		}
		out = append(out, alerts.Subject{TankID: r.TankID, Values: values})
	}
	return out
}

func readInputs(ctx context.Context, pc config.PipelineConfig, r *ingest.Reader) (*table.Table, []table.TankInfo, error) {
	if r == nil {
		var ropts []ingest.Option
		if tok := pc.Token(); tok != "" {
			ropts = append(ropts, ingest.WithBearerToken(tok))
		}
		r = ingest.NewReader(ropts...)
	}

	sensors, err := r.ReadSensors(ctx, pc.Sensors)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("runner: sensors loaded", "source", pc.Sensors, "rows", sensors.Len())

	if pc.TankInfo == "" {
		return sensors, nil, nil
	}
	info, err := r.ReadTankInfo(ctx, pc.TankInfo)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("runner: tank info loaded", "source", pc.TankInfo, "tanks", len(info))
	return sensors, info, nil
}

func capacitySource(pc config.PipelineConfig, haveTankInfo bool) (compute.CapacitySource, error) {
	switch pc.CapacitySource {
	case config.CapacityQuantity:
		return compute.CapacityFromQuantity, nil
	case config.CapacityTank:
		if !haveTankInfo {
			return 0, fmt.Errorf("runner: capacity_source %q: %w", pc.CapacitySource, transform.ErrNoTankInfo)
		}
		return compute.CapacityFromTank, nil
	case config.CapacityAuto, "":
		if haveTankInfo {
			return compute.CapacityFromTank, nil
		}
		return compute.CapacityFromQuantity, nil
	}
	return 0, fmt.Errorf("runner: unknown capacity_source %q", pc.CapacitySource)
}

func writeOutputs(ctx context.Context, cfg *config.Config, conn output.Conn, rep *Report) error {
	if path := cfg.Pipeline.Output; path != "" {
		if err := output.WriteFile(path, rep.Table); err != nil {
			return err
		}
		slog.Info("runner: results written", "path", path, "rows", rep.Table.Len())
	}

	pg := cfg.Output.Postgres
	if conn == nil && !pg.Enabled() {
		return nil
	}
	var w *output.PostgresWriter
	if conn != nil {
		w = output.NewPostgresWriter(conn, pg.Table)
	} else {
		dsn := pg.DSN()
		if dsn == "" {
			return fmt.Errorf("runner: %s is empty", pg.DSNEnv)
		}
		var err error
		if w, err = output.ConnectPostgres(ctx, dsn, pg.Table); err != nil {
			return err
		}
	}
	n, err := w.Write(ctx, rep.RunID, rep.Table)
	rep.RowsCopied = n
	return errors.Join(err, w.Close(ctx))
}

// finishMetrics exports the run's metrics to the textfile collector and logs
// their summary to the tracking run.
func finishMetrics(cfg *config.Config, reg *prometheus.Registry, run *tracking.Run) map[string]float64 {
	if path := cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, reg); err != nil {
			slog.Error("runner: metrics textfile", "path", path, "err", err)
		}
	}
	summary, err := metrics.Summarize(reg)
	if err != nil {
		slog.Error("runner: summarize metrics", "err", err)
		return nil
	}
	if run != nil {
		run.Log(map[string]string{"scope": "metrics"}, summary)
	}
	return summary
}
