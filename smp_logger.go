package main

import (
	"fmt"
	"io"
	logpkg "log"
	"os"
	"sync/atomic"
)

// LogLevel defines severity for logger output.
type LogLevel int32

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Logger provides leveled logging. A nil *Logger discards everything, so
// components can hold one unconditionally.
type Logger struct {
	level  atomic.Int32
	logger *logpkg.Logger
}

// NewLogger creates a logger writing to w with the given level and prefix.
func NewLogger(w io.Writer, level LogLevel, prefix string) *Logger {
	l := &Logger{logger: logpkg.New(w, prefix, logpkg.LstdFlags|logpkg.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

// SetLevel adjusts current logging level. Safe to call while CPUs are running.
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.level.Store(int32(level))
}

func (l *Logger) enabled(target LogLevel) bool {
	return l != nil && target <= LogLevel(l.level.Load())
}

func (l *Logger) logf(target LogLevel, format string, args ...any) {
	if !l.enabled(target) {
		return
	}
	_ = l.logger.Output(3, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LogLevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any) { l.logf(LogLevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any) { l.logf(LogLevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LogLevelError, format, args...) }

var defaultLogger = NewLogger(os.Stderr, LogLevelWarn, "[SMP] ")

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	return defaultLogger
}

// SetLogger replaces the process-wide logger (primarily for tests).
func SetLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}
