// Package logging adapts zap to the auth Logger interface.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger satisfies auth.Logger on top of a sugared zap logger
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(lgr *zap.Logger) *ZapLogger {
	if lgr == nil {
		lgr = zap.NewNop()
	}
	return &ZapLogger{sugar: lgr.Sugar()}
}

// New builds a production or development zap logger at level
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Named returns a child logger tagged with the component name
func (l *ZapLogger) Named(component string) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With("component", component)}
}

func (l *ZapLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
