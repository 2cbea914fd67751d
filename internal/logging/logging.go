// Package logging configures the process-wide structured logger. A single
// *zap.SugaredLogger is built once at startup and threaded down explicitly,
// per the "global mutable state" design note: no ambient package-level
// logger is mutated from elsewhere.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how logs are written.
type Options struct {
	// Path to the log file. Empty means stderr only.
	Path string
	// MaxSizeMB rotates the log file once it crosses this size.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int
	// MaxAgeDays bounds how long rotated files are kept.
	MaxAgeDays int
	// Debug enables debug-level logging.
	Debug bool
}

// New builds a SugaredLogger per Options. Close the returned logger's
// underlying core by calling Sync before process exit.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var core zapcore.Core
	if opts.Path == "" {
		stderr := zapcore.Lock(zapcore.AddSync(os.Stderr))
		core = zapcore.NewCore(encoder, stderr, level)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxOr(opts.MaxSizeMB, 100),
			MaxBackups: maxOr(opts.MaxBackups, 5),
			MaxAge:     maxOr(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		core = zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)
	}

	logger := zap.New(core, zap.AddCaller())
	return logger.Sugar(), nil
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
