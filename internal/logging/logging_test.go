package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
}

func TestConfigValidate_RejectsUnknownFormat(t *testing.T) {
	cfg := &Config{Format: "yaml"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestNewLogger_NilConfigUsesDefaults(t *testing.T) {
	l, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLogger_ConstantFields(t *testing.T) {
	l, err := NewLogger(&Config{
		Level:  zapcore.DebugLevel,
		Format: "json",
		Fields: map[string]string{"component": "gates"},
	})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestTestLogger_RecordsEntries(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn("status markers missing", zap.String("path", "memory_bank/core/status.md"))

	require.Len(t, tl.All(), 1)
	tl.AssertLogged(t, zapcore.WarnLevel, "status markers missing")
}

func TestNamedAndWith_ReturnChildren(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("workflow").With(zap.String("target", "/tmp/proj"))
	child.Info("transition committed")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "workflow", entries[0].LoggerName)
}
