package logging

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		expect zapcore.Level
		err    bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", 0, true},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			lvl, err := ParseLevel(test.in)
			if test.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expect, lvl)
		})
	}
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(nil) })

	Named("voice").Debugw("state changed", "state", "ready")

	entries := logs.All()
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, "voice", entries[0].LoggerName)
	assert.Equal(t, "ready", entries[0].ContextMap()["state"])
}
