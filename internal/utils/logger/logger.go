package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.SugaredLogger

// Init builds the process-wide Zap logger at the requested level.
// Level names follow zapcore ("debug", "info", "warn", "error").
func Init(level string) error {
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	global = z.Sugar()
	zap.ReplaceGlobals(z)
	return nil
}

// Logger returns the shared SugaredLogger. It must return a non-nil
// logger even before Init runs, so early call sites never panic.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// Sync flushes buffered log entries; call on exit.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
