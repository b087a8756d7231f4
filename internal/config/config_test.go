package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.True(t, c.Auth.Enabled)
	assert.Equal(t, 45*time.Second, c.Analysis.Timeout)
	assert.Equal(t, "dry-run", c.Automation.Executor)
	assert.Equal(t, uint(3), c.Notify.RetryAttempts)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
store:
  driver: memory
notify:
  retry_interval: 500ms
log:
  format: console
`), 0o600))

	t.Setenv("SRE_AUTH_ENABLED", "false")
	t.Setenv("SRE_ANALYSIS_TIMEOUT", "10s")
	t.Setenv("WEBHOOK_SECRET", "legacy")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, 500*time.Millisecond, c.Notify.RetryInterval)
	assert.Equal(t, "console", c.Log.Format)
	assert.False(t, c.Auth.Enabled)
	assert.Equal(t, 10*time.Second, c.Analysis.Timeout)
	assert.Equal(t, "legacy", c.Webhook.Secret)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SRE_STORE_DRIVER", "mysql")
	_, err := Load("")
	assert.ErrorContains(t, err, "validate config error")

	t.Setenv("SRE_STORE_DRIVER", "memory")
	t.Setenv("SRE_ANALYSIS_GENERATOR", "openai")
	_, err = Load("")
	assert.ErrorContains(t, err, "OpenAIKey")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config error")
}
