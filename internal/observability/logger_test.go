package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{name: "json info", level: "info", format: "json", enabled: zapcore.InfoLevel},
		{name: "text debug", level: "DEBUG", format: "text", enabled: zapcore.DebugLevel},
		{name: "padded warn", level: " warn ", format: "json", enabled: zapcore.WarnLevel},
		{name: "invalid level", level: "loud", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			if tt.enabled > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.enabled-1))
			}
		})
	}
}

func TestProviderFields(t *testing.T) {
	global := ProviderFields("weather", "")
	require.Len(t, global, 1)
	assert.Equal(t, "provider", global[0].Key)
	assert.Equal(t, "weather", global[0].String)

	tenant := ProviderFields("calendar", "alice")
	require.Len(t, tenant, 2)
	assert.Equal(t, "tenant", tenant[1].Key)
	assert.Equal(t, "alice", tenant[1].String)
}
