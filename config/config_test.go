package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http://localhost:4001", cfg.Node.URL)
	assert.Equal(t, 30*time.Second, cfg.Custody.Timeout)
	assert.Equal(t, uint32(5), cfg.Custody.BreakerFailures)
	assert.Equal(t, uint64(10), cfg.Submit.MaxRounds)
	assert.Equal(t, 4, cfg.Group.Concurrency)
	assert.Equal(t, "devnet-v1", cfg.Devnet.GenesisID)
	assert.Equal(t, 2*time.Second, cfg.Devnet.BlockInterval)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CUSTODYLEDGER_NODE_URL", "http://node.internal:8080")
	t.Setenv("CUSTODYLEDGER_SUBMIT_MAX_ROUNDS", "25")
	t.Setenv("CUSTODYLEDGER_CUSTODY_TIMEOUT", "5s")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://node.internal:8080", cfg.Node.URL)
	assert.Equal(t, uint64(25), cfg.Submit.MaxRounds)
	assert.Equal(t, 5*time.Second, cfg.Custody.Timeout)
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custodyledger.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log:
  level: debug
  format: json
custody:
  url: https://custody.example.com
group:
  concurrency: 8
devnet:
  block_interval: 500ms
`), 0o600))

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://custody.example.com", cfg.Custody.URL)
	assert.Equal(t, 8, cfg.Group.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Devnet.BlockInterval)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidationReportsEveryField(t *testing.T) {
	v := New()
	v.Set("group.concurrency", 0)
	v.Set("log.format", "xml")
	v.Set("custodyd.key_dir", "/var/lib/keys")

	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Group.Concurrency")
	assert.Contains(t, err.Error(), "Config.Log.Format")
	assert.Contains(t, err.Error(), "Config.Custodyd.Passphrase")
}
