package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a sugared zap logger to Logger.
type ZapLogger struct {
	log *zap.SugaredLogger
}

var zapLogger *ZapLogger

// NewLogger builds a logger from config and installs it as the process logger.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	base, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	Install(base.Sugar())
	return zapLogger, nil
}

// Install replaces the process logger and returns a func that puts the
// previous one back. Tests use it with an observer core.
func Install(log *zap.SugaredLogger) (restore func()) {
	prev := zapLogger
	zapLogger = &ZapLogger{log: log}
	return func() { zapLogger = prev }
}

func GetLogger() *ZapLogger {
	if zapLogger == nil {
		panic("logger not initialized")
	}
	return zapLogger
}

// With returns a child logger that carries the given key/value pairs on every entry.
func (l *ZapLogger) With(values ...any) *ZapLogger {
	return &ZapLogger{log: l.log.With(values...)}
}

// SetDefaultFields attaches process-wide fields, like the binary and environment,
// to every entry written through the package functions.
func SetDefaultFields(values ...any) {
	zapLogger = GetLogger().With(values...)
}

// Enabled reports whether entries at lvl would be written.
func (l *ZapLogger) Enabled(lvl zapcore.Level) bool {
	return l.log.Desugar().Core().Enabled(lvl)
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(err error, values ...any) {
	l.log.Fatalw(err.Error(), values...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

// Printf serves fasthttp's server logger, which only reports connection errors.
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}
