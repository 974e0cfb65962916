// Package log provides structured logging for a sync peer on top of
// Go's log/slog: a single Options-driven constructor that selects the
// sink a peer process actually runs with (JSON to stderr, colored
// terminal lines, or a size-rotated file), per-module child loggers,
// and a replaceable process-wide default.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the line encoding of a log sink.
type Format int

const (
	// FormatJSON emits one JSON object per record.
	FormatJSON Format = iota
	// FormatTerminal emits human-readable lines via TerminalHandler.
	FormatTerminal
)

// Options selects the process log sink. The zero value logs JSON to
// stderr at info level.
type Options struct {
	// Level is the minimum level to emit.
	Level slog.Level

	// Format selects JSON or terminal lines. Ignored when File is
	// set: file sinks are always JSON.
	Format Format

	// Color enables ANSI level colors for FormatTerminal.
	Color bool

	// Writer overrides the destination, which defaults to stderr.
	// Ignored when File is set.
	Writer io.Writer

	// File, when non-empty, routes output to this path with size- and
	// age-based rotation, for daemons that cannot rely on external log
	// rotation.
	File string

	// MaxSizeMB is the size a log file may reach before rotation.
	// Defaults to 100 when zero. Only meaningful with File.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain; zero keeps
	// all of them. Only meaningful with File.
	MaxBackups int

	// MaxAgeDays is the number of days to retain rotated files; zero
	// keeps them regardless of age. Only meaningful with File.
	MaxAgeDays int
}

// Logger is a slog.Logger with module-tagging helpers. Records log
// through whatever sink the Logger was opened with; the embedded
// Debug/Info/Warn/Error methods are slog's own.
type Logger struct {
	*slog.Logger
}

// Open builds a Logger for opts.
func Open(opts Options) *Logger {
	hopts := &slog.HandlerOptions{Level: opts.Level}

	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		return Wrap(slog.NewJSONHandler(w, hopts))
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Format == FormatTerminal {
		return Wrap(NewTerminalHandler(w, TerminalHandlerOptions{
			Level: opts.Level,
			Color: opts.Color,
		}))
	}
	return Wrap(slog.NewJSONHandler(w, hopts))
}

// Wrap adapts an existing slog.Handler into a Logger, for tests and
// for hosts that already assemble their own handler chain.
func Wrap(h slog.Handler) *Logger {
	return &Logger{Logger: slog.New(h)}
}

// Module returns a child logger carrying a "module" attribute. This is
// how subsystems (syncstate, backend, transport, ...) obtain their
// contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{Logger: l.Logger.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// defaultLogger can be swapped mid-process (a daemon reconfigures
// logging after flag parsing, once goroutines may already be running),
// so access goes through an atomic pointer.
var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(Open(Options{}))
}

// SetDefault replaces the process-wide default logger. A nil l is
// ignored.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Default returns the process-wide default logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// Debug logs at LevelDebug through the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at LevelInfo through the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at LevelWarn through the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at LevelError through the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }
