// Package logger builds the process zap logger: JSON lines to a rotated
// file under the configured directory, optionally teed to the console.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neomorfeo/tenantgate/internal/config"
)

// FileName is the active log file inside the log directory.
const FileName = "tenantgate.log"

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New returns the logger and a function that flushes and closes its sinks.
// With no directory configured, JSON goes to stderr.
func New(cfg config.Log) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	enc := encoderConfig()
	var cores []zapcore.Core
	closers := []func(){}

	if cfg.Dir == "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), level))
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		sink := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, FileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		closers = append(closers, func() { _ = sink.Close() })
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(sink), level))
	}

	if cfg.Console {
		console := enc
		console.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(console), zapcore.Lock(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	closeFn := func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
	return logger, closeFn, nil
}
