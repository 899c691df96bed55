package log

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var root atomic.Value

func init() {
	root.Store(&logger{slog.New(DiscardHandler())})
}

// SetDefault replaces the process wide logger. The slog default is updated as
// well so that libraries logging through slog end up in the same place.
// SetDefault 设置全局默认日志记录器，同时更新 slog 的默认记录器。
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger.
func Root() Logger {
	return root.Load().(Logger)
}

// The package level helpers call Write directly so the caller frame is at the
// same depth as for the Logger methods.

// Trace logs a message at the trace level with context key/value pairs.
//
//	log.Trace("msg", "key1", val1)
func Trace(msg string, ctx ...interface{}) { Root().Write(LevelTrace, msg, ctx...) }

// Debug logs a message at the debug level with context key/value pairs.
func Debug(msg string, ctx ...interface{}) { Root().Write(LevelDebug, msg, ctx...) }

// Info logs a message at the info level with context key/value pairs.
func Info(msg string, ctx ...interface{}) { Root().Write(LevelInfo, msg, ctx...) }

// Warn logs a message at the warn level with context key/value pairs.
func Warn(msg string, ctx ...interface{}) { Root().Write(LevelWarn, msg, ctx...) }

// Error logs a message at the error level with context key/value pairs.
func Error(msg string, ctx ...interface{}) { Root().Write(LevelError, msg, ctx...) }

// Crit logs a message at the crit level and exits the process.
func Crit(msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, msg, ctx...)
	os.Exit(1)
}

// New returns a logger derived from the root logger with the given context.
func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}
