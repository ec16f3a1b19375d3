// Package config holds the player's tunable settings: decode mode and
// fallback policy, frame queue sizing, synchronization bounds, and benchmark
// limits. Settings load from a YAML file with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/kino-av/kino/internal/avsync"
	"github.com/kino-av/kino/internal/bench"
	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/internal/framequeue"
	"github.com/kino-av/kino/internal/player"
)

// Config is the full settings tree. Millisecond fields are plain integers so
// files stay unit-explicit.
type Config struct {
	Decode DecodeConfig `yaml:"decode"`
	Queue  QueueConfig  `yaml:"queue"`
	Sync   SyncConfig   `yaml:"sync"`
	Bench  BenchConfig  `yaml:"bench"`
}

// DecodeConfig selects and bounds the decode backend.
type DecodeConfig struct {
	// Mode is auto, force-hardware, or force-software.
	Mode string `yaml:"mode"`
	// FallbackEnabled permits the hardware-to-software switch after a fatal
	// device error.
	FallbackEnabled bool `yaml:"fallback_enabled"`
	// RetryLimit bounds in-place retries of transient device errors.
	RetryLimit int `yaml:"retry_limit"`
	// CorruptLimit ends playback after this many consecutive corrupt packets.
	CorruptLimit int `yaml:"corrupt_limit"`
}

// QueueConfig sizes the decoded frame buffer.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// SyncConfig bounds audio/video synchronization.
type SyncConfig struct {
	ToleranceMs     int `yaml:"tolerance_ms"`
	DropThresholdMs int `yaml:"drop_threshold_ms"`
	DegradeDrops    int `yaml:"degrade_drops"`
	DegradeWindowMs int `yaml:"degrade_window_ms"`
}

// BenchConfig bounds benchmark runs.
type BenchConfig struct {
	WarmupFrames  int `yaml:"warmup_frames"`
	MaxFrames     int `yaml:"max_frames"`
	MaxDurationMs int `yaml:"max_duration_ms"`
}

// Default returns the settings used when no file or override says otherwise.
func Default() Config {
	return Config{
		Decode: DecodeConfig{
			Mode:            "auto",
			FallbackEnabled: true,
			RetryLimit:      3,
			CorruptLimit:    player.DefaultCorruptLimit,
		},
		Queue: QueueConfig{
			Capacity: framequeue.DefaultCapacity,
		},
		Sync: SyncConfig{
			ToleranceMs:     int(avsync.DefaultTolerance / time.Millisecond),
			DropThresholdMs: int(avsync.DefaultDropThreshold / time.Millisecond),
			DegradeDrops:    avsync.DefaultDegradeDrops,
			DegradeWindowMs: int(avsync.DefaultDegradeWindow / time.Millisecond),
		},
		Bench: BenchConfig{
			WarmupFrames: bench.DefaultWarmupFrames,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides. The result
// is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets deployments override individual settings without a file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("KINO_DECODE_MODE"); v != "" {
		cfg.Decode.Mode = v
	}
	if v := os.Getenv("KINO_FALLBACK"); v != "" {
		cfg.Decode.FallbackEnabled = v != "0" && v != "false"
	}
	if v, ok := envInt("KINO_QUEUE_CAPACITY"); ok {
		cfg.Queue.Capacity = v
	}
	if v, ok := envInt("KINO_SYNC_TOLERANCE_MS"); ok {
		cfg.Sync.ToleranceMs = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if _, err := decoder.ParseMode(c.Decode.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Decode.RetryLimit < 0 {
		return fmt.Errorf("config: retry_limit %d is negative", c.Decode.RetryLimit)
	}
	if c.Decode.CorruptLimit <= 0 {
		return fmt.Errorf("config: corrupt_limit must be positive, got %d", c.Decode.CorruptLimit)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Sync.ToleranceMs < 0 || c.Sync.DropThresholdMs < 0 {
		return fmt.Errorf("config: sync bounds must not be negative")
	}
	if c.Sync.DropThresholdMs < c.Sync.ToleranceMs {
		return fmt.Errorf("config: drop_threshold_ms %d below tolerance_ms %d",
			c.Sync.DropThresholdMs, c.Sync.ToleranceMs)
	}
	if c.Bench.WarmupFrames < 0 || c.Bench.MaxFrames < 0 || c.Bench.MaxDurationMs < 0 {
		return fmt.Errorf("config: bench limits must not be negative")
	}
	return nil
}

// Mode returns the parsed decode mode. Call after Validate.
func (c Config) Mode() decoder.Mode {
	m, _ := decoder.ParseMode(c.Decode.Mode)
	return m
}

// SelectorConfig maps settings onto the backend selector.
func (c Config) SelectorConfig() decoder.SelectorConfig {
	return decoder.SelectorConfig{
		Mode:            c.Mode(),
		FallbackEnabled: c.Decode.FallbackEnabled,
		RetryLimit:      c.Decode.RetryLimit,
	}
}

// PlayerConfig maps settings onto the playback engine.
func (c Config) PlayerConfig() player.Config {
	return player.Config{
		QueueCapacity: c.Queue.Capacity,
		CorruptLimit:  c.Decode.CorruptLimit,
		Sync: avsync.Options{
			Tolerance:     time.Duration(c.Sync.ToleranceMs) * time.Millisecond,
			DropThreshold: time.Duration(c.Sync.DropThresholdMs) * time.Millisecond,
			DegradeDrops:  c.Sync.DegradeDrops,
			DegradeWindow: time.Duration(c.Sync.DegradeWindowMs) * time.Millisecond,
		},
	}
}

// BenchOptions maps settings onto the benchmark harness.
func (c Config) BenchOptions() bench.Config {
	return bench.Config{
		WarmupFrames: c.Bench.WarmupFrames,
		MaxFrames:    c.Bench.MaxFrames,
		MaxDuration:  time.Duration(c.Bench.MaxDurationMs) * time.Millisecond,
	}
}
