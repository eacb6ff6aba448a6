// Package logging builds the zap loggers shared by the voxelscan commands.
//
// Console output goes to stderr in a human format. When a file path is set,
// a second JSON core writes to a lumberjack-rotated file at debug level so
// long scans can be inspected after the fact.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Verbose bool
	// File enables the rotated JSON sink when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New returns the root logger and a cleanup func that syncs and closes sinks.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	cores := []zapcore.Core{console}
	var lj *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(lj),
			zapcore.DebugLevel,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = logger.Sync()
		if lj != nil {
			_ = lj.Close()
		}
	}
	return logger, cleanup, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
