package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a level string (case-insensitive).
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger 结构化分级日志，底层为 zap JSON 输出
type Logger struct {
	mu    sync.RWMutex
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

var defaultLogger = New(os.Stdout, LevelInfo)

// New 创建写入 w 的日志实例
func New(w io.Writer, level Level) *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(level.zapLevel())}
	l.sugar = buildSugar(w, l.level)
	return l
}

func buildSugar(w io.Writer, level zap.AtomicLevel) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// SetLevel changes the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// SetOutput changes the writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sugar = buildSugar(w, l.level)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.current().Sync()
}

func (l *Logger) current() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

func (l *Logger) log(level Level, msg string, kvs ...any) {
	s := l.current()
	switch level {
	case LevelDebug:
		s.Debugw(msg, kvs...)
	case LevelWarn:
		s.Warnw(msg, kvs...)
	case LevelError:
		s.Errorw(msg, kvs...)
	default:
		s.Infow(msg, kvs...)
	}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	s := l.current()
	switch level {
	case LevelDebug:
		s.Debugf(format, args...)
	case LevelWarn:
		s.Warnf(format, args...)
	case LevelError:
		s.Errorf(format, args...)
	default:
		s.Infof(format, args...)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, kvs ...any) { l.log(LevelDebug, msg, kvs...) }

// Info logs an info message.
func (l *Logger) Info(msg string, kvs ...any) { l.log(LevelInfo, msg, kvs...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, kvs ...any) { l.log(LevelWarn, msg, kvs...) }

// Error logs an error message.
func (l *Logger) Error(msg string, kvs ...any) { l.log(LevelError, msg, kvs...) }

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Package-level convenience functions. They call log/logf directly so the
// caller skip matches the method path.

func SetLevel(level Level)     { defaultLogger.SetLevel(level) }
func SetOutput(w io.Writer)    { defaultLogger.SetOutput(w) }
func Sync() error              { return defaultLogger.Sync() }
func Debug(msg string, kvs ...any) { defaultLogger.log(LevelDebug, msg, kvs...) }
func Info(msg string, kvs ...any)  { defaultLogger.log(LevelInfo, msg, kvs...) }
func Warn(msg string, kvs ...any)  { defaultLogger.log(LevelWarn, msg, kvs...) }
func Error(msg string, kvs ...any) { defaultLogger.log(LevelError, msg, kvs...) }
func Infof(format string, args ...any)  { defaultLogger.logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { defaultLogger.logf(LevelError, format, args...) }
func Debugf(format string, args ...any) { defaultLogger.logf(LevelDebug, format, args...) }
