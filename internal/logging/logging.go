// Package logging provides the three log streams shared by every pipeline
// stage: ops (skips, failures, lifecycle), diag (per-frame diagnostics) and
// trace (per-record telemetry).
package logging

import (
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *zap.SugaredLogger
	diagLogger  *zap.SugaredLogger
	traceLogger *zap.SugaredLogger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("ops", w.Ops)
	diagLogger = newLogger("diag", w.Diag)
	traceLogger = newLogger("trace", w.Trace)
}

// newLogger creates a console zap logger for a given writer, or returns nil if w is nil.
func newLogger(name string, w io.Writer) *zap.SugaredLogger {
	if w == nil {
		return nil
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named(name).Sugar()
}

// Opsf logs to the ops stream (actionable warnings, errors, lifecycle events).
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Infof(format, args...)
	}
}

// Warnf logs a skipped unit of work to the ops stream at warn level.
func Warnf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Warnf(format, args...)
	}
}

// Diagf logs to the diag stream (day-to-day diagnostics, per-frame context).
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Debugf(format, args...)
	}
}

// Tracef logs to the trace stream (high-frequency record/point telemetry).
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Debugf(format, args...)
	}
}

// Sync flushes any buffered entries on all streams.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range []*zap.SugaredLogger{opsLogger, diagLogger, traceLogger} {
		if l != nil {
			_ = l.Sync()
		}
	}
}
