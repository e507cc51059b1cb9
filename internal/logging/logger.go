// Package logging builds the charmbracelet loggers the walker and the
// decompiler hosts report through. Level, prefix and destination come from
// the environment so subcommands and tests can tune them without flags.
//
//	TABLEWALK_LOG_LEVEL   debug, info, warn or error (default info)
//	TABLEWALK_LOG_PREFIX  message prefix (default "tablewalk")
//	TABLEWALK_LOG_FILE    append to this file instead of stderr
//	TABLEWALK_LOG_TO_FILE "1" appends to tablewalk-<time>-debug.log
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is a charmbracelet logger that owns its output.
type Logger struct {
	*log.Logger
	closer io.Closer
}

// Close closes the output when the logger opened it.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Component returns a child logger whose prefix names a part of the walk,
// e.g. "tablewalk/ghidra".
func (l *Logger) Component(name string) *log.Logger {
	return l.Logger.WithPrefix(prefix() + "/" + name)
}

// Level reads TABLEWALK_LOG_LEVEL, falling back to info on anything
// charmbracelet/log does not recognise.
func Level() log.Level {
	lvl, err := log.ParseLevel(os.Getenv("TABLEWALK_LOG_LEVEL"))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func prefix() string {
	if p := os.Getenv("TABLEWALK_LOG_PREFIX"); p != "" {
		return p
	}
	return "tablewalk"
}

// NewLoggerWithWriter creates a logger on w. A closeable w is closed by
// Close.
func NewLoggerWithWriter(w io.Writer) *Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           Level(),
		Prefix:          prefix(),
	})

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}
	return &Logger{Logger: lg, closer: closer}
}

// NewLogger creates a logger on the destination the environment selects,
// stderr when the log file cannot be opened.
func NewLogger() *Logger {
	path := os.Getenv("TABLEWALK_LOG_FILE")
	if path == "" && os.Getenv("TABLEWALK_LOG_TO_FILE") == "1" {
		path = fmt.Sprintf("tablewalk-%s-debug.log", time.Now().Format("20060102-150405"))
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			return NewLoggerWithWriter(f)
		}
	}
	return NewLoggerWithWriter(os.Stderr)
}

var (
	defaultOnce sync.Once
	defaultLg   *Logger
)

// Default returns a process-wide logger for code that is not handed one.
// It is never closed.
func Default() *Logger {
	defaultOnce.Do(func() { defaultLg = NewLogger() })
	return defaultLg
}

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool {
	return Level() <= log.DebugLevel
}
