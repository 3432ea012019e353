// Package logging holds the process-wide structured logger. Library packages
// log through L, which is a no-op until the binary calls Init or SetLogger.
package logging

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar = zap.NewNop().Sugar()
)

// L returns the current logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Named returns a child of the current logger scoped to the given component.
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// SetLogger replaces the global logger. A nil logger restores the no-op one.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	mu.Lock()
	sugar = l
	mu.Unlock()
}

// Init builds a JSON logger at the given level ("debug", "info", "warn",
// "error"; empty means info), installs it globally and redirects the standard
// library logger into it.
func Init(level string) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl == zapcore.DebugLevel {
		cfg.Development = true
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}

	zap.RedirectStdLog(logger)

	s := logger.Sugar()
	SetLogger(s)
	return s, nil
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, errors.Wrapf(err, "invalid log level %q", level)
	}

	return lvl, nil
}
