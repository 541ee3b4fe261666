package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString(" warning "))
	assert.Equal(t, zapcore.ErrorLevel, levelFromString("error"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestZapLogger_FieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).With(map[string]interface{}{"component": "engine"})

	l.WithError(errors.New("boom")).Warn("cycle failed", map[string]interface{}{"cycle": "c1"})

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "cycle failed", entries[0].Message)
		assert.Equal(t, "engine", ctx["component"])
		assert.Equal(t, "c1", ctx["cycle"])
		assert.Equal(t, "boom", ctx["error"])
	}
}

func TestNew_BuildsBothFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("info", format)
		assert.NoError(t, err)
		assert.NotNil(t, l)
	}
}
