package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/config"
)

func TestLogger_WritesPerLevelFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Info("frame %d accepted", 7)
	l.Warning("queue at %d%%", 90)
	l.Error("sink unreachable")
	l.Sync()

	info, err := os.ReadFile(filepath.Join(dir, InfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(info), "frame 7 accepted")
	assert.NotContains(t, string(info), "sink unreachable")

	warning, err := os.ReadFile(filepath.Join(dir, WarningFile))
	require.NoError(t, err)
	assert.Contains(t, string(warning), "queue at 90%")

	errs, err := os.ReadFile(filepath.Join(dir, ErrorFile))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "sink unreachable")
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Error("something broke")
	l.Sync()
	require.NoError(t, l.CleanLogs(ErrorFile))

	errs, err := os.ReadFile(filepath.Join(dir, ErrorFile))
	require.NoError(t, err)
	assert.Empty(t, string(errs))
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("ignored")
	assert.NoError(t, l.CleanLogs(InfoFile))
}
