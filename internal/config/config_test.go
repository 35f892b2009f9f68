package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load("")

	assert.Equal(t, 3, cfg.ProcessingWorkers)
	assert.Equal(t, 0.25, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.45, cfg.IOUThreshold)
	assert.Equal(t, 300, cfg.MaxDetections)
	assert.Equal(t, "none", cfg.SinkKind)
	assert.Equal(t, 60*time.Second, cfg.ViewerTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROCESSING_WORKERS", "6")
	t.Setenv("TASK_TIMEOUT", "750ms")
	t.Setenv("REQUEST_TIMEOUT", "20")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.6")
	t.Setenv("MAX_UPLOAD_BYTES", "not-a-number")
	t.Setenv("VIEWER_TIMEOUT", "15s")

	cfg := Load("")

	assert.Equal(t, 6, cfg.ProcessingWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.TaskTimeout)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 15*time.Second, cfg.ViewerTimeout)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SINK_KIND=redis\nSTREAM_FPS=5\n"), 0644))

	// godotenv does not override variables that are already set.
	t.Setenv("SINK_KIND", "")
	os.Unsetenv("SINK_KIND")
	t.Setenv("STREAM_FPS", "")
	os.Unsetenv("STREAM_FPS")

	cfg := Load(envFile)

	assert.Equal(t, "redis", cfg.SinkKind)
	assert.Equal(t, 5, cfg.StreamFPS)
}
