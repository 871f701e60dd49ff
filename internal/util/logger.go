package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger configures the process-wide logger. Production emits JSON with
// RFC3339 timestamps and no stacktraces below panic level; every other
// environment gets colored console output.
func InitLogger(env string) error {
	var cfg zap.Config
	switch env {
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = l
	zap.ReplaceGlobals(l)
	return nil
}

// GetLogger returns the process logger. Before InitLogger runs (tests, early
// startup failures) it falls back to a development logger.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes buffered log entries before exit.
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
