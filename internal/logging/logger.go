// Package logging provides the logging interface and default implementation
// used throughout the kvvfs module.
//
// Design: five-level interface (Error, Warn, Info, Debug, Fatal), the same
// shape used across the RocksDB/Badger/Pebble family of storage engines.
// Callers may wrap their own structured logger (slog, zap) if desired.
//
// Fatalf behavior: logs at FATAL level and invokes the configured
// FatalHandler. The default handler is a no-op, and nothing in this module
// installs one, so Fatalf only logs unless a caller sets a handler with
// SetFatalHandler. Fatalf does not call os.Exit.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Component namespace prefixes:
//   - [vfs]     — façade-level dispatch
//   - [store]   — versioned block store
//   - [journal] — rollback-journal emulation
//   - [lock]    — lock manager
//   - [purge]   — purge scheduler
//   - [kvstore] — KVS adaptor
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync/atomic"
)

// ErrFatal is the sentinel error wrapped by fatal conditions.
var ErrFatal = errors.New("fatal error")

// FatalHandler is called when Fatalf is invoked. The handler receives the
// formatted fatal message and should transition the system to a stopped
// state (e.g. reject further writes).
//
// Contract: FatalHandler must be safe for concurrent use and must not call
// Fatalf (avoid infinite recursion).
type FatalHandler func(msg string)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface used for all kvvfs logging.
//
// Implementations must be safe for concurrent use: façade operations may be
// invoked from any goroutine the embedding engine chooses to use.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler. It does not
	// terminate the process.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes to a configured output with level filtering.
// It is stateless apart from the fatal handler and safe for concurrent use.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a logger writing to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// NewLogger creates a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler sets the handler invoked by Fatalf.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

// Fatalf logs at FATAL level (no level filtering) and invokes the fatal
// handler, if one is set.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes for log messages.
const (
	NSVFS     = "[vfs] "
	NSStore   = "[store] "
	NSJournal = "[journal] "
	NSLock    = "[lock] "
	NSPurge   = "[purge] "
	NSKVStore = "[kvstore] "
)

// IsNil reports whether l is nil or a typed-nil interface value.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l if valid, otherwise a default WARN-level logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
