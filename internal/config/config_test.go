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
	t.Setenv("HOME", t.TempDir())

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", c.BackendURL)
	assert.Equal(t, 60*time.Second, c.HTTPTimeout())
	assert.Equal(t, 120*time.Second, c.StageTimeout())
	assert.Equal(t, 1, c.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.RetryBaseDelay())
	assert.Equal(t, 4*time.Second, c.RetryMaxDelay())
	assert.Equal(t, "text", c.DefaultFormat)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), DirName, "history"), c.HistoryFile)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Global{
		BackendURL:       "http://analysis.internal:9000",
		HTTPTimeoutSec:   5,
		StageTimeoutSec:  30,
		RetryMaxAttempts: 3,
		DefaultFormat:    "markdown",
		ChartsDir:        "/tmp/charts",
		HistoryFile:      "/tmp/hist",
	}
	require.NoError(t, Save(in, path))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in.BackendURL, out.BackendURL)
	assert.Equal(t, 5, out.HTTPTimeoutSec)
	assert.Equal(t, 30, out.StageTimeoutSec)
	assert.Equal(t, 3, out.RetryMaxAttempts)
	assert.Equal(t, "markdown", out.DefaultFormat)
	assert.Equal(t, "/tmp/charts", out.ChartsDir)
	assert.Equal(t, "/tmp/hist", out.HistoryFile)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(&Global{BackendURL: "http://from-file"}, path))
	t.Setenv("AGENTVIZ_BACKEND_URL", "http://from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", c.BackendURL)
}

func TestSaveDefaultPathUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, Save(&Global{BackendURL: "http://x"}, ""))
	_, err := os.Stat(filepath.Join(home, DirName, "config.yaml"))
	require.NoError(t, err)
}
