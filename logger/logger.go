// Package logger holds the process wide structured logger of the detector.
// Until one of the Init functions or SetLogger is called every log call is a no-op.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   = zap.NewNop()
	sugar = log.Sugar()
)

// InitProduction installs a JSON logger at info level.
func InitProduction() error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// InitDevelopment installs a console logger at debug level.
func InitDevelopment() error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the logger. A nil logger restores the no-op one.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logMu.Lock()
	defer logMu.Unlock()
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// L returns the current logger. It is never nil.
func L() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

// S returns the sugared form of the current logger.
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return sugar
}

// Sync flushes buffered log entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	_ = log.Sync()
}
