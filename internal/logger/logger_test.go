package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("verbose"))
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New("warn", dir, "organizer-test")
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.String("k", "v"))
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "organizer-test.log"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"organizer-test"`)
	assert.NotContains(t, out, "hidden")
}
