package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTemp(t, `
min_size_for_broadcast: 1024
max_rpc_message_size: 4096
shuffle_locality_enabled: false
parallel_agg_threshold: 500
dispatcher_num_threads: 4
dispatcher_queue_capacity: 256
rpc_timeout: 10s
logging:
  level: warn
redis:
  url: redis://localhost:6379/2
  ttl: 5m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.MinSizeForBroadcast)
	assert.Equal(t, 4096, cfg.MaxRPCMessageSize)
	assert.False(t, cfg.ShuffleLocalityEnabled)
	assert.Equal(t, 500, cfg.ParallelAggThreshold)
	assert.Equal(t, 4, cfg.DispatcherNumThreads)
	assert.Equal(t, 256, cfg.DispatcherQueueCapacity)
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout.Duration)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Redis.URL)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL.Duration)
}

func TestLoad_PartialConfigFillsDefaults(t *testing.T) {
	path := writeTemp(t, `dispatcher_num_threads: 16`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.DispatcherNumThreads)
	assert.Equal(t, DefaultMinSizeForBroadcast, cfg.MinSizeForBroadcast)
	assert.Equal(t, DefaultMaxRPCMessageSize, cfg.MaxRPCMessageSize)
	assert.True(t, cfg.ShuffleLocalityEnabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTemp(t, `not_a_real_field: true`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsBroadcastThresholdAboveRPCMax(t *testing.T) {
	path := writeTemp(t, `
min_size_for_broadcast: 999999999
max_rpc_message_size: 1024
`)
	_, err := Load(path)
	var invalid *InvalidConfigurationError
	require.ErrorAs(t, err, &invalid)
}

func TestExpandEnv_SubstitutesAndDefaults(t *testing.T) {
	t.Setenv("TRACKER_TEST_ADDR", "redis.internal:6379")
	out := ExpandEnv("addr: ${TRACKER_TEST_ADDR}\nfallback: ${TRACKER_TEST_UNSET:-default-value}")
	assert.Contains(t, out, "addr: redis.internal:6379")
	assert.Contains(t, out, "fallback: default-value")
}

func TestNew_RejectsInvalidDispatcherThreads(t *testing.T) {
	cfg := Default()
	cfg.DispatcherNumThreads = 0
	_, err := New(cfg)
	var invalid *InvalidConfigurationError
	require.ErrorAs(t, err, &invalid)
}

func TestDefault_PassesItsOwnValidation(t *testing.T) {
	_, err := New(Default())
	require.NoError(t, err)
}

func TestNew_RejectsInvalidLoggingLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "not-a-level"
	_, err := New(cfg)
	var invalid *InvalidConfigurationError
	require.ErrorAs(t, err, &invalid)
}
