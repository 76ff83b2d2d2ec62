// Package logger provides the process-wide log used by the runner, the
// script engine glue and the HTTP server. Until Init is called all logging
// is discarded.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger = zap.NewNop()
	logFile      *os.File
	mu           sync.Mutex
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	closeLocked()

	logFile = f
	globalLogger = newLogger(zapcore.AddSync(f), zapcore.DebugLevel)
	return nil
}

// InitWriter logs to w instead of a file.
func InitWriter(w io.Writer, level zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	globalLogger = newLogger(zapcore.AddSync(w), level)
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(ws),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	_ = globalLogger.Sync()
	globalLogger = zap.NewNop()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// L returns the structured logger. Callers add their own fields.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger.WithOptions(zap.AddCallerSkip(-1))
}

func current() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	current().Info(fmt.Sprintf(format, v...))
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	current().Debug(fmt.Sprintf(format, v...))
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	current().Error(fmt.Sprintf(format, v...))
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	current().Warn(fmt.Sprintf(format, v...))
}

// GetWriter returns the underlying log file, or io.Discard.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
