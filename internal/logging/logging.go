// Package logging provides structured logging for everything outside the
// pure twopc engine: the CLI driver, the in-memory transport, and the
// badger-backed context store. The engine package itself never imports
// this package — deciding what to log about a commit/abort decision is
// an embedder concern, not the core state machine's.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Level is a log level.
type Level uint

const (
	// LevelDebug is the log level for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the log level for informative messages.
	LevelInfo
	// LevelWarn is the log level for warning messages.
	LevelWarn
	// LevelError is the log level for error messages.
	LevelError
)

// ParseLevel returns the Level corresponding to s, for wiring up
// cmd/twopcsim's --log-level flag.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelError, fmt.Errorf("logging: invalid log level: %q", s)
	}
}

func (l Level) allow() level.Option {
	switch l {
	case LevelDebug:
		return level.AllowDebug()
	case LevelInfo:
		return level.AllowInfo()
	case LevelWarn:
		return level.AllowWarn()
	case LevelError:
		return level.AllowError()
	default:
		return level.AllowError()
	}
}

// Format is a structured-log output encoding.
type Format uint

const (
	// FmtLogfmt is the "logfmt" output encoding.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON output encoding.
	FmtJSON
)

// ParseFormat returns the Format corresponding to s, for wiring up
// cmd/twopcsim's --log-format flag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(s) {
	case "LOGFMT":
		return FmtLogfmt, nil
	case "JSON":
		return FmtJSON, nil
	default:
		return FmtLogfmt, fmt.Errorf("logging: invalid log format: %q", s)
	}
}

var backend = logBackend{
	baseLogger: log.NewNopLogger(),
	level:      LevelError,
}

// Logger is a leveled, structured logger bound to a module name.
type Logger struct {
	logger log.Logger
}

// Debug logs msg and keyvals at LevelDebug.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals)
}

// Info logs msg and keyvals at LevelInfo.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals)
}

// Warn logs msg and keyvals at LevelWarn.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals)
}

// Error logs msg and keyvals at LevelError.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals)
}

func (l *Logger) log(lvl Level, msg string, keyvals []interface{}) {
	if backend.level > lvl {
		return
	}
	keyvals = append([]interface{}{"msg", msg}, keyvals...)
	var logFn func(log.Logger) log.Logger
	switch lvl {
	case LevelDebug:
		logFn = level.Debug
	case LevelInfo:
		logFn = level.Info
	case LevelWarn:
		logFn = level.Warn
	default:
		logFn = level.Error
	}
	_ = logFn(l.logger).Log(keyvals...)
}

// With returns a clone of l with keyvals bound as a prefix on every
// subsequent call, e.g. log.With(process_id, ...).Debug(...) inside a
// process's event loop.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{logger: log.With(l.logger, keyvals...)}
}

// GetLogger returns a Logger for the named module. It may be called
// before Initialize, including at package-scope var-init time; such
// loggers are silently swapped to the real backend once Initialize runs.
func GetLogger(module string) *Logger {
	return backend.getLogger(module)
}

// Initialize configures the logging backend to write to w at the given
// level and format. A nil w discards all output. Initialize may be
// called at most once.
func Initialize(w io.Writer, lvl Level, format Format) error {
	backend.Lock()
	defer backend.Unlock()

	if backend.initialized {
		return fmt.Errorf("logging: already initialized")
	}

	logger := backend.baseLogger
	if w != nil {
		sw := log.NewSyncWriter(w)
		switch format {
		case FmtLogfmt:
			logger = log.NewLogfmtLogger(sw)
		case FmtJSON:
			logger = log.NewJSONLogger(sw)
		default:
			return fmt.Errorf("logging: unsupported log format: %v", format)
		}
	}

	logger = level.NewFilter(logger, lvl.allow())
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	backend.baseLogger = logger
	backend.level = lvl
	backend.initialized = true

	for _, l := range backend.earlyLoggers {
		l.Swap(backend.baseLogger)
	}
	backend.earlyLoggers = nil

	return nil
}

type logBackend struct {
	sync.Mutex

	baseLogger   log.Logger
	earlyLoggers []*log.SwapLogger
	level        Level

	initialized bool
}

func (b *logBackend) getLogger(module string) *Logger {
	b.Lock()
	defer b.Unlock()

	logger := b.baseLogger
	if !b.initialized {
		logger = &log.SwapLogger{}
	}

	l := &Logger{
		logger: log.WithPrefix(logger, "module", module, "caller", log.Caller(4)),
	}

	if !b.initialized {
		sl := logger.(*log.SwapLogger)
		b.earlyLoggers = append(b.earlyLoggers, sl)
	}

	return l
}
