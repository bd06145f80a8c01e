// Copyright 2025 Redpanda Data, Inc.

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/redpanda-data/edgestream/internal/core"
	"github.com/redpanda-data/edgestream/internal/log"
	"github.com/redpanda-data/edgestream/internal/offset"
	"github.com/redpanda-data/edgestream/internal/schedule"
	"github.com/redpanda-data/edgestream/internal/window"
	"github.com/redpanda-data/edgestream/internal/worker"
)

// Type is the top-level on-disk configuration, assembled the way the
// teacher's stream.Config composes one plain, yaml-tagged struct per
// component rather than a generic field-spec tree.
type Type struct {
	Log       log.Config       `yaml:"logger"`
	Offset    offsetYAML       `yaml:"offset_tracker"`
	Window    windowYAML       `yaml:"window_aggregator"`
	Scheduler schedulerYAML    `yaml:"scheduler"`
	Worker    workerYAML       `yaml:"worker_pool"`
	Sweeps    sweepsYAML       `yaml:"background_sweeps"`
}

type offsetYAML struct {
	MaxWaiting     int    `yaml:"max_waiting"`
	OverflowPolicy string `yaml:"overflow_policy"`
	IdleTTL        string `yaml:"idle_ttl"`
	SweepInterval  string `yaml:"sweep_interval"`
	NumShards      int    `yaml:"num_shards"`
}

type windowYAML struct {
	WindowSize      int    `yaml:"window_size"`
	Slide           int    `yaml:"slide"`
	WindowTimeout   string `yaml:"window_timeout"`
	AllowIncomplete bool   `yaml:"allow_incomplete"`
	StallAlarm      string `yaml:"stall_alarm"`
}

type schedulerYAML struct {
	WorkerCount       int `yaml:"worker_count"`
	MaxPendingBatches int `yaml:"max_pending_batches"`
	DedupCacheSize    int `yaml:"dedup_cache_size"`
}

type workerYAML struct {
	WorkerCount         int     `yaml:"worker_count"`
	WorkerInboxCapacity int     `yaml:"worker_inbox_capacity"`
	BatchTimeout        string  `yaml:"batch_timeout"`
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelay        string  `yaml:"initial_delay"`
	MaxDelay            string  `yaml:"max_delay"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
}

type sweepsYAML struct {
	IdleSweepInterval string `yaml:"idle_sweep_interval"`
	TickInterval      string `yaml:"tick_interval"`
}

// DefaultType returns the on-disk representation of core.DefaultConfig,
// suitable as a starting point for New/generated config files.
func DefaultType() Type {
	d := core.DefaultConfig()
	return Type{
		Log: log.DefaultConfig(),
		Offset: offsetYAML{
			MaxWaiting:     d.Offset.MaxWaiting,
			OverflowPolicy: string(d.Offset.OverflowPolicy),
			IdleTTL:        d.Offset.IdleTTL.String(),
			SweepInterval:  d.Offset.SweepInterval.String(),
			NumShards:      d.Offset.NumShards,
		},
		Window: windowYAML{
			WindowSize:      d.Window.WindowSize,
			Slide:           d.Window.Slide,
			WindowTimeout:   d.Window.WindowTimeout.String(),
			AllowIncomplete: d.Window.AllowIncomplete,
			StallAlarm:      d.Window.StallAlarm.String(),
		},
		Scheduler: schedulerYAML{
			WorkerCount:       d.Scheduler.WorkerCount,
			MaxPendingBatches: d.Scheduler.MaxPendingBatches,
			DedupCacheSize:    d.Scheduler.DedupCacheSize,
		},
		Worker: workerYAML{
			WorkerCount:         d.Worker.WorkerCount,
			WorkerInboxCapacity: d.Worker.WorkerInboxCapacity,
			BatchTimeout:        d.Worker.BatchTimeout.String(),
			MaxRetries:          d.Worker.MaxRetries,
			InitialDelay:        d.Worker.InitialDelay.String(),
			MaxDelay:            d.Worker.MaxDelay.String(),
			BackoffMultiplier:   d.Worker.BackoffMultiplier,
		},
		Sweeps: sweepsYAML{
			IdleSweepInterval: "@every 30s",
			TickInterval:      "@every 1s",
		},
	}
}

// Read loads and resolves the Reader's config file: reads the bytes, applies
// environment variable interpolation, applies any dotted-path overrides,
// and unmarshals into Type.
func (r *Reader) Read(ctx context.Context) (Type, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return Type{}, fmt.Errorf("config: read %s: %w", r.path, err)
	}

	swapped, err := r.ReplaceEnvVariables(ctx, raw)
	if err != nil {
		return Type{}, err
	}

	if len(r.overrides) > 0 {
		if swapped, err = applyOverrides(swapped, r.overrides); err != nil {
			return Type{}, err
		}
	}

	t := DefaultType()
	if err := yaml.Unmarshal(swapped, &t); err != nil {
		return Type{}, fmt.Errorf("config: parse %s: %w", r.path, err)
	}
	return t, nil
}

// applyOverrides applies "dot.path=value" assignments (mirroring the
// teacher's --set CLI flag) on top of the parsed document before it is
// unmarshalled into Type, so an override can add a key the file omits.
func applyOverrides(doc []byte, overrides []string) ([]byte, error) {
	root := map[string]any{}
	if len(doc) > 0 {
		if err := yaml.Unmarshal(doc, &root); err != nil {
			return nil, fmt.Errorf("config: parse before overrides: %w", err)
		}
	}
	for _, o := range overrides {
		path, value, ok := strings.Cut(o, "=")
		if !ok {
			return nil, fmt.Errorf("config: override %q missing '='", o)
		}
		setDotted(root, strings.Split(path, "."), value)
	}
	return yaml.Marshal(root)
}

func setDotted(root map[string]any, path []string, value string) {
	node := root
	for i, key := range path {
		if i == len(path)-1 {
			// Parse the value as a YAML scalar so "8" lands as an int and
			// "true" as a bool, not as quoted strings.
			var parsed any
			if err := yaml.Unmarshal([]byte(value), &parsed); err == nil && parsed != nil {
				node[key] = parsed
			} else {
				node[key] = value
			}
			return
		}
		next, ok := node[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[key] = next
		}
		node = next
	}
}

// ToCoreConfig converts the resolved on-disk Type into core.Config, parsing
// every duration field and validating the enum fields along the way.
func (t Type) ToCoreConfig() (core.Config, error) {
	idleTTL, err := time.ParseDuration(t.Offset.IdleTTL)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: offset_tracker.idle_ttl: %w", err)
	}
	offsetSweep, err := time.ParseDuration(t.Offset.SweepInterval)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: offset_tracker.sweep_interval: %w", err)
	}
	windowTimeout, err := time.ParseDuration(t.Window.WindowTimeout)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: window_aggregator.window_timeout: %w", err)
	}
	stallAlarm, err := time.ParseDuration(t.Window.StallAlarm)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: window_aggregator.stall_alarm: %w", err)
	}
	batchTimeout, err := time.ParseDuration(t.Worker.BatchTimeout)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: worker_pool.batch_timeout: %w", err)
	}
	initialDelay, err := time.ParseDuration(t.Worker.InitialDelay)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: worker_pool.initial_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(t.Worker.MaxDelay)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: worker_pool.max_delay: %w", err)
	}

	cfg := core.Config{
		Offset: offset.Config{
			MaxWaiting:     t.Offset.MaxWaiting,
			OverflowPolicy: offset.OverflowPolicy(t.Offset.OverflowPolicy),
			IdleTTL:        idleTTL,
			SweepInterval:  offsetSweep,
			NumShards:      t.Offset.NumShards,
		},
		Window: window.Config{
			WindowSize:      t.Window.WindowSize,
			Slide:           t.Window.Slide,
			WindowTimeout:   windowTimeout,
			AllowIncomplete: t.Window.AllowIncomplete,
			StallAlarm:      stallAlarm,
		},
		Scheduler: schedule.Config{
			WorkerCount:       t.Scheduler.WorkerCount,
			MaxPendingBatches: t.Scheduler.MaxPendingBatches,
			DedupCacheSize:    t.Scheduler.DedupCacheSize,
		},
		Worker: worker.Config{
			WorkerCount:         t.Worker.WorkerCount,
			WorkerInboxCapacity: t.Worker.WorkerInboxCapacity,
			BatchTimeout:        batchTimeout,
			MaxRetries:          t.Worker.MaxRetries,
			InitialDelay:        initialDelay,
			MaxDelay:            maxDelay,
			BackoffMultiplier:   t.Worker.BackoffMultiplier,
		},
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}
