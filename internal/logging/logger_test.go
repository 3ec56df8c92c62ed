package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewLogger(zap.New(core)), logs
}

func TestNewLoggerDefaultsToProduction(t *testing.T) {
	l := NewLogger(nil)
	require.NotNil(t, l)
}

func TestLoggerLevels(t *testing.T) {
	l, logs := newObservedLogger()

	l.Debug("debug message", "key", "value")
	l.Info("info message")
	l.Warn("warning message")
	l.Error("error message")

	require.Len(t, logs.All(), 4)
	require.Equal(t, "debug message", logs.All()[0].Message)
	require.Equal(t, "value", logs.All()[0].ContextMap()["key"])
	require.Equal(t, "info message", logs.All()[1].Message)
	require.Equal(t, "warning message", logs.All()[2].Message)
	require.Equal(t, "error message", logs.All()[3].Message)
}

func TestLoggerFormattedVariants(t *testing.T) {
	l, logs := newObservedLogger()

	l.Infof("segment %s ready", "/walredo-deadbeef")

	require.Len(t, logs.All(), 1)
	require.Equal(t, "segment /walredo-deadbeef ready", logs.All()[0].Message)
}

func TestGlobalLoggerFunctions(t *testing.T) {
	l, logs := newObservedLogger()
	SetDefault(l)
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message", "key", "value")
	Info("info message")
	Warn("warning message")
	Error("error message")

	require.Len(t, logs.All(), 4)
}
