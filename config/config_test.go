package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Classifier.Endpoint)
	assert.Equal(t, 60*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Empty(t, cfg.Gateway.APIKey)
	assert.Contains(t, cfg.Database.Path, filepath.Join(".llmrouter", "router", "router.db"))
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("HEALTH_CHECK_INTERVAL_MS", "5000")
	t.Setenv("GATEWAY_API_KEY", "sk-test")
	t.Setenv("ROUTER_DB_PATH", "/tmp/router-test.db")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.Equal(t, "sk-test", cfg.Gateway.APIKey)
	assert.Equal(t, "/tmp/router-test.db", cfg.Database.Path)
}

func TestNew_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "70000")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestNew_IntervalTooShort(t *testing.T) {
	t.Setenv("HEALTH_CHECK_INTERVAL_MS", "500")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1000ms")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("tilde prefix", func(t *testing.T) {
		assert.Equal(t, filepath.Join(home, "x", "y.db"), ExpandHome("~/x/y.db"))
	})

	t.Run("bare tilde", func(t *testing.T) {
		assert.Equal(t, home, ExpandHome("~"))
	})

	t.Run("absolute path untouched", func(t *testing.T) {
		assert.Equal(t, "/var/lib/router.db", ExpandHome("/var/lib/router.db"))
	})
}
