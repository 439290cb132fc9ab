// Package log defines the logging capability injected into vizlink
// components. Components treat a nil Logger as a no-op, so tests and
// embedders that do not care about diagnostics pass nothing.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is the minimal leveled logging interface.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type stdLogger struct {
	level Level
	out   io.Writer
	mu    sync.Mutex

	debugTag string
	infoTag  string
	warnTag  string
	errorTag string
}

// NewStdLogger returns a Logger that writes timestamped, colored lines to
// stderr, dropping anything below the given level.
func NewStdLogger(level Level) Logger {
	return NewStdLoggerWithWriter(level, os.Stderr)
}

func NewStdLoggerWithWriter(level Level, out io.Writer) Logger {
	return &stdLogger{
		level:    level,
		out:      out,
		debugTag: color.New(color.FgCyan, color.Bold).Sprint("DEBUG:"),
		infoTag:  color.New(color.FgGreen, color.Bold).Sprint("INFO:"),
		warnTag:  color.New(color.FgYellow, color.Bold).Sprint("WARN:"),
		errorTag: color.New(color.FgRed, color.Bold).Sprint("ERROR:"),
	}
}

func (l *stdLogger) log(level Level, tag string, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), tag, msg)
}

func (l *stdLogger) Debug(msg string) {
	l.log(LevelDebug, l.debugTag, msg)
}

func (l *stdLogger) Info(msg string) {
	l.log(LevelInfo, l.infoTag, msg)
}

func (l *stdLogger) Warn(msg string) {
	l.log(LevelWarn, l.warnTag, msg)
}

func (l *stdLogger) Error(msg string) {
	l.log(LevelError, l.errorTag, msg)
}
