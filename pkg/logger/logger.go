// Package logger configures the process-wide zap logger.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once
)

// Config selects the level and rendering of the process logger.
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
}

// Init builds the process logger from the configuration. The first call
// wins; later calls are no-ops and return nil.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		global, err = build(cfg)
	})
	return err
}

// Get returns the process logger. When Init was never called (library use
// without the CLI wrapper) a default info-level JSON logger is built.
// Components derive their own child via With at the call site.
func Get() *zap.Logger {
	once.Do(func() {
		var err error
		if global, err = build(Config{Level: "info", Encoding: "json"}); err != nil {
			global = zap.NewNop()
		}
	})
	return global
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	// Logs go to stderr: stdout carries scan and convert payloads.
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	lg, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return lg, nil
}
