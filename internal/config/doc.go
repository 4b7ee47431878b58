// Package config loads and watches the pipeline configuration file
// (aquarium.yaml).
//
// Top-level types:
//   - Config{Pipeline, Tracking, Alerts, Output, Metrics}: full tree parsed from YAML
//   - PipelineConfig: sensors, tank_info, output, standard_temperature, workers,
//     capacity_source (auto|quantity|capacity), token_env
//   - TrackingConfig: enabled, project, buffer_size, sinks []SinkConfig
//     (memory|influx|textfile|store)
//   - AlertsConfig: threshold rules over per-tank results plus webhook targets
//   - OutputConfig: optional PostgreSQL copy of the result table
//   - MetricsConfig: Prometheus textfile path
//
// Secrets never live in the file. token_env, dsn_env and url_env name
// environment variables that Token(), DSN() and URL() resolve at use time.
//
// Load(path) reads the YAML file, applies defaults (26 °C standard
// temperature, auto capacity source, 1000-entry tracking buffer), then
// validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory to detect
// changes, including atomic saves, and calls onChange with the newly parsed
// Config once the burst of events settles.
package config
