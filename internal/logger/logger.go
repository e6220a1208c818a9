// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a zap sugared logger so that the rest of the code base can keep using
// printf-style calls while the output format (json or text) stays configurable.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// Logger provides leveled logging
type Logger struct {
	level Level
	sugar *zap.SugaredLogger
}

var (
	// Global logger instance
	defaultLogger *Logger
)

// ParseLevel maps a level name to a Level. Unknown names map to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	l := ParseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	opts := []zap.Option{zap.AddCallerSkip(1)}
	if strings.ToLower(format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
		opts = append(opts, zap.AddCaller())
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), l.zapLevel())
	defaultLogger = &Logger{
		level: l,
		sugar: zap.New(core, opts...).Sugar(),
	}
}

// CurrentLevel returns the configured level, or InfoLevel before Init.
func CurrentLevel() Level {
	if defaultLogger == nil {
		return InfoLevel
	}
	return defaultLogger.level
}

// Sync flushes any buffered log entries.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.sugar.Sync()
	}
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= DebugLevel {
		defaultLogger.sugar.Debugf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= InfoLevel {
		defaultLogger.sugar.Infof(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= WarnLevel {
		defaultLogger.sugar.Warnf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= ErrorLevel {
		defaultLogger.sugar.Errorf(format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.sugar.Error("[FATAL] " + msg)
		_ = defaultLogger.sugar.Sync()
	} else {
		fmt.Fprintln(os.Stderr, "[FATAL] "+msg)
	}
	os.Exit(1)
}
