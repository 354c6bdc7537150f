// logger/logger.go
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

var (
	mu      sync.Mutex
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]
	file    *os.File
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(slog.New(newConsoleHandler(os.Stderr, level, true)))
}

// Init initializes the logger with optional file and console output
// If filename is empty, logs only to console
// If console is false, logs only to file
func Init(filename string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}

	var handlers []slog.Handler
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		handlers = append(handlers, newConsoleHandler(f, level, false))
	}
	if console {
		handlers = append(handlers, newConsoleHandler(os.Stderr, level, true))
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no output destination specified")
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = teeHandler(handlers)
	}
	current.Store(slog.New(h))
	return nil
}

// SetOutput sends console-format output to w, replacing any configured
// destinations. Used by tests to capture log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	current.Store(slog.New(newConsoleHandler(w, level, false)))
}

// SetLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR)
// Messages below this level will not be logged
func SetLevel(l LogLevel) {
	level.Set(l.slogLevel())
}

// Slog returns the underlying structured logger.
func Slog() *slog.Logger {
	return current.Load()
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
		current.Store(slog.New(newConsoleHandler(os.Stderr, level, true)))
	}
}

// output records msg with the caller of the exported helper as its source.
func output(lvl slog.Level, msg string) {
	l := current.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	_ = l.Handler().Handle(ctx, r)
}

// Debug logs a debug message
func Debug(v ...interface{}) { output(slog.LevelDebug, fmt.Sprint(v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) { output(slog.LevelDebug, fmt.Sprintf(format, v...)) }

// Info logs an info message
func Info(v ...interface{}) { output(slog.LevelInfo, fmt.Sprint(v...)) }

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) { output(slog.LevelInfo, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...interface{}) { output(slog.LevelWarn, fmt.Sprint(v...)) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) { output(slog.LevelWarn, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...interface{}) { output(slog.LevelError, fmt.Sprint(v...)) }

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) { output(slog.LevelError, fmt.Sprintf(format, v...)) }

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	output(slog.LevelError, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	output(slog.LevelError, fmt.Sprintf(format, v...))
	os.Exit(1)
}
