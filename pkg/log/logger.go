// Package log is the structured logging facade shared by every transport in this module.
//
// Components never reach for a global logger. They receive a Logger through their
// config struct (or through a context via SetContextLogger) and name themselves with
// WithName, so a single process can tell the websocket transport, the HTTP transport
// and the cross-context channels apart:
//
//	lg := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelDebug})
//	tr, err := transport.Dial(ctx, url, transport.WebsocketConfig{Logger: lg})
//
// NoopLogger is the default everywhere a Logger is optional.
package log

import "strings"

// Logger is a leveled, key-value structured logger.
type Logger interface {
	// Debug logs low-level details such as individual frames.
	Debug(msg string, keysAndValues ...any)
	// Info logs routine state changes (connected, resubscribed).
	Info(msg string, keysAndValues ...any)
	// Warn logs unexpected but recoverable situations (dropped frame, retry).
	Warn(msg string, keysAndValues ...any)
	// Error logs failures that need attention.
	Error(msg string, keysAndValues ...any)
	// Fatal logs an unrecoverable failure; implementations may exit the process.
	Fatal(msg string, keysAndValues ...any)
	// WithKV returns a logger that adds the pair to every future entry.
	WithKV(key string, value any) Logger
	// GetAllKV returns the pairs accumulated through WithKV.
	GetAllKV() []any
	// WithName returns a logger nested under name (dot separated).
	WithName(name string) Logger
	// Name returns the full dotted logger name.
	Name() string
	// AddCallerSkip returns a logger that skips skip extra frames when reporting the caller.
	AddCallerSkip(skip int) Logger
}

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ParseLevel maps a case-insensitive level name to a Level, falling back to LevelInfo.
func ParseLevel(s string) Level {
	switch lvl := Level(strings.ToLower(strings.TrimSpace(s))); lvl {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return lvl
	case "warning":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// SpanEventRecorder receives log entries as trace span events.
type SpanEventRecorder interface {
	TraceID() string
	SpanID() string
	RecordEvent(name string, keysAndValues ...any)
	RecordError(name string, keysAndValues ...any)
}
