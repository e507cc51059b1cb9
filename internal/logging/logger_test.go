package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env  string
		want log.Level
	}{
		{"", log.InfoLevel},
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"loud", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Setenv("TABLEWALK_LOG_LEVEL", tt.env)
		assert.Equal(t, tt.want, Level(), "level %q", tt.env)
	}

	t.Setenv("TABLEWALK_LOG_LEVEL", "debug")
	assert.True(t, IsDebug())
	t.Setenv("TABLEWALK_LOG_LEVEL", "warn")
	assert.False(t, IsDebug())
}

func TestComponentPrefix(t *testing.T) {
	t.Setenv("TABLEWALK_LOG_LEVEL", "debug")
	t.Setenv("TABLEWALK_LOG_PREFIX", "")

	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	lg.Component("ghidra").Debug("batch", "addresses", 3)

	assert.Contains(t, buf.String(), "tablewalk/ghidra")
	assert.Contains(t, buf.String(), "addresses=3")
	assert.NoError(t, lg.Close())
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.log")
	t.Setenv("TABLEWALK_LOG_FILE", path)
	t.Setenv("TABLEWALK_LOG_LEVEL", "info")

	lg := NewLogger()
	lg.Info("wrote dump", "records", 2)
	require.NoError(t, lg.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wrote dump")
}
