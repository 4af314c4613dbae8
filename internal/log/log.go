// Package log provides the module-scoped structured logger used across
// the indexer and API. Call sites log with key-value pairs the way the
// rest of the codebase expects, regardless of which backend renders them.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, one per package that owns a logger. Kept as a closed set
// so every logger in the process carries a recognizable, grep-able name.
const (
	Pipeline    = "pipeline"
	NodeClient  = "nodeclient"
	Store       = "store"
	SyncStatus  = "syncstatus"
	Transform   = "transform"
	API         = "api"
	CmdIndexer  = "cmd"
	Events      = "events"
	Config      = "config"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if os.Getenv("INDEXER_LOG_DEBUG") != "" {
			level.SetLevel(zapcore.DebugLevel)
		}
		cfg := zap.Config{
			Level:            level,
			Development:      false,
			Encoding:         "console",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			// Fall back to a minimal, always-constructible logger rather than
			// leaving every module logger nil.
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Logger is a structured logger bound to one module name, logging with
// alternating key/value pairs the way the rest of the codebase calls it:
// logger.Info("message", "height", h, "blockID", id).
type Logger struct {
	module string
	zap    *zap.SugaredLogger
}

// NewModuleLogger returns the logger for a module. Safe to call at
// package-init time from a `var logger = log.NewModuleLogger(log.X)`.
func NewModuleLogger(module string) *Logger {
	return &Logger{
		module: module,
		zap:    baseLogger().Sugar().With("module", module),
	}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.zap.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.zap.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.zap.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.zap.Errorw(msg, kv...) }

// Crit logs at error level and terminates the process. Reserved for
// startup failures that leave the indexer with nothing useful to do.
func (l *Logger) Crit(msg string, kv ...interface{}) {
	l.zap.Errorw(msg, kv...)
	_ = l.zap.Sync()
	os.Exit(1)
}
