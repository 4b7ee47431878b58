package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquariumadventures/aquarium/internal/alerts"
	"github.com/aquariumadventures/aquarium/internal/config"
	"github.com/aquariumadventures/aquarium/internal/runner"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	sensors := flag.String("sensors", "", "sensor readings file or URL (overrides config)")
	tankInfo := flag.String("tank-info", "", "tank metadata file or URL (overrides config)")
	outputPath := flag.String("output", "", "result file: .csv, .tsv, .xlsx, optionally .gz/.zst (overrides config)")
	project := flag.String("project", "", "tracking project name (overrides config)")
	noTrack := flag.Bool("no-track", false, "disable experiment tracking")
	watch := flag.Bool("watch", false, "re-run whenever the config file changes")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	override := func(c *config.Config) {
		if *sensors != "" {
			c.Pipeline.Sensors = *sensors
		}
		if *tankInfo != "" {
			c.Pipeline.TankInfo = *tankInfo
		}
		if *outputPath != "" {
			c.Pipeline.Output = *outputPath
		}
		if *project != "" {
			c.Tracking.Project = *project
		}
		if *noTrack {
			c.Tracking.Enabled = false
		}
	}

	cfg, err := loadConfig(*configPath, override)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"sensors", cfg.Pipeline.Sensors,
		"tank_info", cfg.Pipeline.TankInfo,
		"output", cfg.Pipeline.Output,
		"tracking", cfg.Tracking.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*watch {
		if _, err := runOnce(ctx, cfg, nil); err != nil {
			slog.Error("pipeline run failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if *configPath == "" {
		slog.Error("-watch requires -config")
		os.Exit(1)
	}
	if err := watchAndRun(ctx, *configPath, cfg, override); err != nil {
		slog.Error("watch stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("aquarium shutting down")
}

func loadConfig(path string, override config.Override) (*config.Config, error) {
	if path != "" {
		return config.Load(path, override)
	}
	cfg := config.Default()
	override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runOnce(ctx context.Context, cfg *config.Config, ae *alerts.Engine) (*runner.Report, error) {
	rep, err := runner.RunFullPipeline(ctx, cfg, runner.Options{Alerts: ae})
	if err != nil {
		return rep, err
	}
	slog.Info("pipeline run complete",
		"run_id", rep.RunID,
		"rows", rep.Table.Len(),
		"tanks", len(rep.Tanks),
		"alerts", len(rep.Alerts),
	)
	return rep, nil
}

// watchAndRun runs the pipeline once, then again after every config change.
// Runs never overlap: changes arriving during a run collapse into a single
// follow-up run. Alert state carries over between runs until the alert rules
// themselves change.
func watchAndRun(ctx context.Context, path string, cfg *config.Config, override config.Override) error {
	ae, err := alerts.New(cfg.Alerts)
	if err != nil {
		return err
	}

	reloads := make(chan *config.Config, 1)
	go func() {
		err := config.Watch(ctx, path, func(updated *config.Config) {
			select {
			case <-reloads:
			default:
			}
			reloads <- updated
		}, override)
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	for {
		if _, err := runOnce(ctx, cfg, ae); err != nil {
			slog.Error("pipeline run failed, waiting for config change", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case updated := <-reloads:
			if !sameRules(cfg.Alerts, updated.Alerts) {
				next, err := alerts.New(updated.Alerts)
				if err != nil {
					slog.Error("alert rules rejected, keeping previous rules", "err", err)
					updated.Alerts = cfg.Alerts
				} else {
					ae = next
				}
			}
			cfg = updated
			slog.Info("config changed, re-running pipeline")
		}
	}
}

func sameRules(a, b config.AlertsConfig) bool {
	if len(a.Rules) != len(b.Rules) || len(a.Webhooks) != len(b.Webhooks) {
		return false
	}
	for i := range a.Rules {
		if a.Rules[i] != b.Rules[i] {
			return false
		}
	}
	for i := range a.Webhooks {
		if a.Webhooks[i] != b.Webhooks[i] {
			return false
		}
	}
	return true
}
