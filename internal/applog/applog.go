// Package applog provides the process-wide leveled logger. It wraps the
// standard library's log.Logger with a lumberjack.Logger sink so the
// long-lived `ultragitlab serve` process rotates its own log file instead
// of growing it unbounded.
package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log verbosity; only entries at or above the configured
// level are written.
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
		return "UNKNOWN"
	}
}

// Logger writes leveled, one-line-per-event log entries.
type Logger struct {
	mu       sync.Mutex
	out      *log.Logger
	level    Level
	rotating *lumberjack.Logger // nil when writing to stderr only
}

// Config controls where and how verbosely a Logger writes.
type Config struct {
	// FilePath, if set, routes output through a rotating lumberjack sink.
	// Empty means stderr only.
	FilePath   string
	MaxSizeMB  int  // default 10
	MaxBackups int  // default 3
	MaxAgeDays int  // default 28
	Compress   bool
	Level      Level
	// AlsoStderr additionally mirrors output to stderr even when FilePath is set.
	AlsoStderr bool
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
	return c
}

// New builds a Logger per cfg.
func New(cfg Config) *Logger {
	cfg = cfg.withDefaults()

	var writer io.Writer = os.Stderr
	var rotating *lumberjack.Logger
	if cfg.FilePath != "" {
		rotating = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		if cfg.AlsoStderr {
			writer = io.MultiWriter(rotating, os.Stderr)
		} else {
			writer = rotating
		}
	}

	return &Logger{
		out:      log.New(writer, "", log.LstdFlags),
		level:    cfg.Level,
		rotating: rotating,
	}
}

// Close releases the rotating file handle, if any.
func (l *Logger) Close() error {
	if l.rotating != nil {
		return l.rotating.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// std is the process-wide default logger, used by packages that don't
// carry their own *Logger reference.
var std = New(Config{Level: LevelInfo})

// SetDefault replaces the process-wide logger, called once from cmd/ultragitlab
// at startup once config/flags are known.
func SetDefault(l *Logger) { std = l }

func Default() *Logger { return std }

func Debug(format string, args ...any) { std.Debug(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Error(format string, args ...any) { std.Error(format, args...) }
