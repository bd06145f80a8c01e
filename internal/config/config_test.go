package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "edgestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadResolvesEnvVarsAndParses(t *testing.T) {
	yaml := `
offset_tracker:
  max_waiting: 10
  overflow_policy: ${OVERFLOW_POLICY:reject}
  idle_ttl: 1m
  sweep_interval: 10s
  num_shards: 4
window_aggregator:
  window_size: 5
  slide: 5
  window_timeout: 2s
  stall_alarm: 30s
scheduler:
  worker_count: 2
  max_pending_batches: 16
  dedup_cache_size: 256
worker_pool:
  worker_count: 2
  worker_inbox_capacity: 8
  batch_timeout: 5s
  max_retries: 1
  initial_delay: 100ms
  max_delay: 2s
  backoff_multiplier: 2
`
	path := writeTempConfig(t, yaml)
	r := NewReader(path, nil, OptUseEnvLookupFunc(func(_ context.Context, name string) (string, bool) {
		if name == "OVERFLOW_POLICY" {
			return "drop_oldest", true
		}
		return "", false
	}))

	typ, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drop_oldest", typ.Offset.OverflowPolicy)
	assert.Equal(t, 10, typ.Offset.MaxWaiting)

	cfg, err := typ.ToCoreConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.WorkerCount)
}

func TestReadAppliesOverrides(t *testing.T) {
	path := writeTempConfig(t, `
offset_tracker:
  max_waiting: 10
  overflow_policy: reject
  idle_ttl: 1m
  sweep_interval: 10s
  num_shards: 4
window_aggregator:
  window_size: 5
  slide: 5
  window_timeout: 2s
  stall_alarm: 30s
scheduler:
  worker_count: 2
  max_pending_batches: 16
  dedup_cache_size: 256
worker_pool:
  worker_count: 2
  worker_inbox_capacity: 8
  batch_timeout: 5s
  max_retries: 1
  initial_delay: 100ms
  max_delay: 2s
  backoff_multiplier: 2
`)
	r := NewReader(path, []string{"scheduler.worker_count=8"})

	typ, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, typ.Scheduler.WorkerCount)
}

func TestDefaultTypeRoundTripsThroughCoreConfig(t *testing.T) {
	cfg, err := DefaultType().ToCoreConfig()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
