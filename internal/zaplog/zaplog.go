// Package zaplog adapts a zap logger to the small keyed-argument Logger
// interface the pipeline packages accept.
package zaplog

import (
	"go.uber.org/zap"
)

// Logger wraps a zap.SugaredLogger. The pipeline's Logger interfaces take
// alternating key/value arguments, which maps directly onto the sugared
// *w methods.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps the given zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.Sugar()}
}

// NewProduction builds a production-configured logger.
func NewProduction() (*Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	return New(logger), nil
}

// NewDevelopment builds a development-configured logger.
func NewDevelopment() (*Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return New(logger), nil
}

// Debug logs at debug level with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs at info level with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs at warn level with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs at error level with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
