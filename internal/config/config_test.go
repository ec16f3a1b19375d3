package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kino-av/kino/internal/decoder"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kino.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "auto", cfg.Decode.Mode)
	assert.True(t, cfg.Decode.FallbackEnabled)
	assert.Equal(t, 3, cfg.Decode.RetryLimit)
	assert.Equal(t, 20, cfg.Decode.CorruptLimit)
	assert.Equal(t, 16, cfg.Queue.Capacity)
	assert.Equal(t, 40, cfg.Sync.ToleranceMs)
	assert.Equal(t, 100, cfg.Sync.DropThresholdMs)
	assert.Equal(t, 30, cfg.Bench.WarmupFrames)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
decode:
  mode: force-software
  fallback_enabled: false
  retry_limit: 5
queue:
  capacity: 32
sync:
  tolerance_ms: 20
  drop_threshold_ms: 80
bench:
  warmup_frames: 10
  max_frames: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, decoder.ModeForceSoftware, cfg.Mode())
	assert.False(t, cfg.Decode.FallbackEnabled)
	assert.Equal(t, 5, cfg.Decode.RetryLimit)
	assert.Equal(t, 32, cfg.Queue.Capacity)
	assert.Equal(t, 20, cfg.Sync.ToleranceMs)
	assert.Equal(t, 500, cfg.Bench.MaxFrames)
	// Untouched sections keep defaults.
	assert.Equal(t, 20, cfg.Decode.CorruptLimit)
	assert.Equal(t, 8, cfg.Sync.DegradeDrops)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "decode:\n  mode: force-hardware\nqueue:\n  capacity: 8\n")
	t.Setenv("KINO_DECODE_MODE", "force-software")
	t.Setenv("KINO_QUEUE_CAPACITY", "64")
	t.Setenv("KINO_SYNC_TOLERANCE_MS", "25")
	t.Setenv("KINO_FALLBACK", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, decoder.ModeForceSoftware, cfg.Mode())
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 25, cfg.Sync.ToleranceMs)
	assert.False(t, cfg.Decode.FallbackEnabled)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "decode: [not a mapping"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Decode.Mode = "turbo" }},
		{"negative retry limit", func(c *Config) { c.Decode.RetryLimit = -1 }},
		{"zero corrupt limit", func(c *Config) { c.Decode.CorruptLimit = 0 }},
		{"zero queue capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"negative tolerance", func(c *Config) { c.Sync.ToleranceMs = -5 }},
		{"drop threshold below tolerance", func(c *Config) {
			c.Sync.ToleranceMs = 50
			c.Sync.DropThresholdMs = 40
		}},
		{"negative bench frames", func(c *Config) { c.Bench.MaxFrames = -1 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMappings(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Decode.Mode = "force-hardware"
	cfg.Sync.ToleranceMs = 30
	cfg.Bench.MaxDurationMs = 1500

	sel := cfg.SelectorConfig()
	assert.Equal(t, decoder.ModeForceHardware, sel.Mode)
	assert.True(t, sel.FallbackEnabled)
	assert.Equal(t, 3, sel.RetryLimit)

	pc := cfg.PlayerConfig()
	assert.Equal(t, 16, pc.QueueCapacity)
	assert.Equal(t, 30*time.Millisecond, pc.Sync.Tolerance)

	bo := cfg.BenchOptions()
	assert.Equal(t, 30, bo.WarmupFrames)
	assert.Equal(t, 1500*time.Millisecond, bo.MaxDuration)
}
