package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		ok            bool
	}{
		{"info", "json", true},
		{"DEBUG", "console", true},
		{"warn", "", true},
		{"loud", "json", false},
		{"info", "xml", false},
	}
	for _, tt := range tests {
		l, err := New(tt.level, tt.format)
		if !tt.ok {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.NotNil(t, l)
	}

	l, err := New("warn", "json")
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.InfoLevel))
	require.True(t, l.Core().Enabled(zapcore.ErrorLevel))
	require.Panics(t, func() { Must("loud", "json") })
}
