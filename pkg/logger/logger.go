// Package logger is the HTTP layer's field-based logger. It sits on top of
// log/slog so request logs and the process-wide *slog.Logger share one
// handler configuration (level, JSON or text).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel accepts debug, info, warn/warning and error in any case.
// Unknown names fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	}
	return LevelInfo
}

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat returns FormatText for "text" and FormatJSON otherwise.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field is one structured key/value.
type Field struct {
	Key   string
	Value any
}

func (f Field) attr() slog.Attr { return slog.Any(f.Key, f.Value) }

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Duration renders d as a string ("1.5s").
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Err logs err's message under "error".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// RequestIDKey is the field name of the per-request correlation id.
const RequestIDKey = "request_id"

func LearnerID(id string) Field     { return String("learner_id", id) }
func AttemptID(id string) Field     { return String("attempt_id", id) }
func XPAmount(xp int) Field         { return Int("xp_amount", xp) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
func StatusCode(code int) Field     { return Int("status", code) }

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures New.
type Options struct {
	Output io.Writer // os.Stdout when nil
	Level  Level
	Format Format
	// AddSource adds the caller's file:line to every entry.
	AddSource bool
}

// Logger writes Field-based entries through a slog handler.
type Logger struct {
	sl *slog.Logger
}

// New creates a Logger.
func New(opts Options) *Logger {
	return &Logger{sl: slog.New(newHandler(opts))}
}

// Default logs JSON at info level to stdout.
func Default() *Logger {
	return New(Options{})
}

// NewSlog builds the process-wide *slog.Logger with the same settings the
// HTTP logger uses.
func NewSlog(w io.Writer, level Level, format Format) *slog.Logger {
	return slog.New(newHandler(Options{Output: w, Level: level, Format: format}))
}

func newHandler(opts Options) slog.Handler {
	w := opts.Output
	if w == nil {
		w = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	if opts.Format == FormatText {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

// With returns a Logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f.attr()
	}
	return &Logger{sl: l.sl.With(args...)}
}

// WithRequestID is With(String(RequestIDKey, id)).
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}

// Slog exposes the underlying logger.
func (l *Logger) Slog() *slog.Logger { return l.sl }

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	l.sl.LogAttrs(ctx, level, msg, attrs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
