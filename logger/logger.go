// Package logger holds the process-wide zap logger.
package logger

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the logger preset.
type Mode string

const (
	// ModeProduction writes JSON at info level.
	ModeProduction Mode = "production"
	// ModeDevelopment writes colored console output at debug level.
	ModeDevelopment Mode = "development"
	// ModeNop discards everything.
	ModeNop Mode = "nop"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// ParseMode parses a mode name, case-insensitively. Empty means production.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeProduction, nil
	case ModeProduction, ModeDevelopment, ModeNop:
		return m, nil
	default:
		return "", errors.Errorf("unknown log mode %q", s)
	}
}

// New builds a logger for mode without installing it.
//
// Arguments:
//   - mode: The logger preset.
//
// Returns:
//   - *zap.Logger: The logger.
//   - error: An error if mode is unknown or the logger cannot be built.
func New(mode Mode) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case ModeProduction, "":
		cfg = zap.NewProductionConfig()
	case ModeDevelopment:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ModeNop:
		return zap.NewNop(), nil
	default:
		return nil, errors.Errorf("unknown log mode %q", mode)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l, nil
}

// Init builds a logger for mode and installs it as the zap global.
func Init(mode Mode) error {
	l, err := New(mode)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l, replacing the zap globals so zap.L() and zap.S() return it.
// The previous logger is flushed.
func Set(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()

	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log returns the installed logger, or the zap global if none is installed.
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

// S returns the sugared form of Log.
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Sync flushes buffered entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
