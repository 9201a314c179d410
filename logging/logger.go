package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Logger wraps slog.Logger with the component and contract scoping used
// across warp.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a new Logger with text output format.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a new Logger with JSON output format.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() *Logger {
	return New(nopHandler{})
}

// With returns a new Logger with the given attributes added to every log entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// WithComponent returns a new Logger with a component attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithContract returns a new Logger with a contract attribute.
func (l *Logger) WithContract(id string) *Logger {
	return l.With(ContractID(id))
}

// Attribute constructors keep field names consistent across packages.

// Component creates a component attribute.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// ContractID creates a contract ID attribute.
func ContractID(id string) slog.Attr {
	return slog.String("contract_id", id)
}

// InteractionID creates an interaction transaction id attribute.
func InteractionID(id string) slog.Attr {
	return slog.String("interaction_id", id)
}

// SortKey creates a sort key attribute. Empty keys are logged as "genesis".
func SortKey(k string) slog.Attr {
	if k == "" {
		return slog.String("sort_key", "genesis")
	}
	return slog.String("sort_key", k)
}

// Bound creates an evaluation upper bound attribute. Empty bounds are
// logged as "latest".
func Bound(k string) slog.Attr {
	if k == "" {
		return slog.String("bound", "latest")
	}
	return slog.String("bound", k)
}

// CodeVersion creates an active contract code version attribute.
func CodeVersion(src string) slog.Attr {
	return slog.String("code_version", src)
}

// Policy creates an unsafe client policy attribute.
func Policy(p string) slog.Attr {
	return slog.String("policy", p)
}

// Cursor creates a pagination cursor attribute.
func Cursor(c string) slog.Attr {
	return slog.String("cursor", c)
}

// Attempt creates a retry attempt attribute.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Outcome creates an interaction outcome attribute.
func Outcome(o string) slog.Attr {
	return slog.String("outcome", o)
}

// Duration creates a duration attribute in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// Count creates a count attribute.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Size creates a size attribute in bytes.
func Size(n int) slog.Attr {
	return slog.Int("size_bytes", n)
}

// Address creates an address attribute.
func Address(addr string) slog.Attr {
	return slog.String("address", addr)
}

// Backend creates a storage backend attribute.
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Reason creates a reason attribute.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// State creates a state attribute.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// Depth creates a nested evaluation depth attribute.
func Depth(n int) slog.Attr {
	return slog.Int("depth", n)
}

// nopHandler is a slog.Handler that discards all logs.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
