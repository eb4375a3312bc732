package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  env: staging
wal:
  dir: /var/lib/maple/wal
  max_segment_size_bytes: 1048576
  sync_mode: batched
redis:
  addr: localhost:6379
bridge:
  signer_key_id: staging-key
  idempotency_ttl_sec: 3600
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadConfigReadsYAMLValues(t *testing.T) {
	path := writeSampleConfig(t)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Server.Env)
	require.Equal(t, "/var/lib/maple/wal", cfg.WAL.Dir)
	require.Equal(t, 1048576, cfg.WAL.MaxSegmentSize)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "staging-key", cfg.Bridge.SignerKeyID)
	require.Equal(t, 3600, cfg.Bridge.IdempotencyTTLSec)
}

func TestLoadConfigEnvOverrideWinsOverFile(t *testing.T) {
	path := writeSampleConfig(t)
	t.Setenv("MAPLE_ENV", "production")
	t.Setenv("MAPLE_WAL_MAX_SEGMENT_SIZE", "2097152")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Server.Env)
	require.Equal(t, 2097152, cfg.WAL.MaxSegmentSize)
	// values with no corresponding env var keep the file's value.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGetEnvBoolAcceptsTrueAndOne(t *testing.T) {
	t.Setenv("MAPLE_SANDBOX_ENABLED", "1")
	require.True(t, getEnvBool("MAPLE_SANDBOX_ENABLED", false))
	t.Setenv("MAPLE_SANDBOX_ENABLED", "true")
	require.True(t, getEnvBool("MAPLE_SANDBOX_ENABLED", false))
	t.Setenv("MAPLE_SANDBOX_ENABLED", "")
	require.False(t, getEnvBool("MAPLE_SANDBOX_ENABLED", false))
}
