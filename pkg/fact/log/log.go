// Package log provides the process-wide structured logger for fact.
//
// It wraps zap the same way the teacher's pkg/util/log does: a single
// package-level *zap.SugaredLogger, initialized once by Setup and read
// through the L accessor. Collectors and the sink never build their own
// loggers, they all share this one.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	current = zap.NewNop().Sugar()
)

// Setup initializes the process-wide logger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to "info". Safe to
// call more than once; the most recent call wins.
func Setup(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	current = logger.Sugar()
	mu.Unlock()
	return nil
}

// L returns the process-wide logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Sync flushes any buffered log entries. Call once before process exit.
func Sync() {
	_ = L().Sync()
}
