// Package logging provides leveled logging for walcore, backed by zap.
package logging

import "sync"

import "go.uber.org/zap"

// Logger wraps a zap.SugaredLogger behind the leveled-logging surface the
// rest of the module calls through, so call sites don't need to know
// zap's field API directly.
type Logger struct {
	s *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger builds a Logger around the given zap logger. Passing nil uses
// a production zap config writing to stderr.
func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		built, err := zap.NewProduction()
		if err != nil {
			built = zap.NewNop()
		}
		base = built
	}
	return &Logger{s: base.Sugar()}
}

// Default returns the process-wide default logger, creating it lazily.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

func (l *Logger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *Logger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }

// Sync flushes buffered log entries; callers should defer this at shutdown.
func (l *Logger) Sync() error { return l.s.Sync() }

// Global convenience functions, mirroring the per-instance methods.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
