package observe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel maps a configured level name to a slog level. Names are
// case-insensitive and "" means info.
func ParseLogLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}
	return l, nil
}

// structuredLogger writes JSON lines through a slog handler.
type structuredLogger struct {
	logger *slog.Logger
}

// NewLoggerWithWriter creates a JSON logger writing to w. Unknown levels
// fall back to info.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	lvl, _ := ParseLogLevel(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactAttr,
	})
	return &structuredLogger{logger: slog.New(handler)}
}

// NewSlogLogger adapts an existing slog.Logger. Field redaction is left to
// the logger's handler.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return &structuredLogger{logger: l}
}

// With returns a logger that adds fields to every entry.
func (l *structuredLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &structuredLogger{logger: l.logger.With(toArgs(fields)...)}
}

// WithCall returns a logger with call context attached.
func (l *structuredLogger) WithCall(meta CallMeta) Logger {
	fields := []Field{
		{Key: "component", Value: meta.Kind},
		{Key: "call", Value: meta.Name},
	}
	if meta.Class != "" {
		fields = append(fields, Field{Key: "timeout_class", Value: meta.Class})
	}
	if meta.EventID != "" {
		fields = append(fields, Field{Key: "event_id", Value: meta.EventID})
	}
	return l.With(fields...)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.logger.InfoContext(ctx, msg, toArgs(fields)...)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.logger.WarnContext(ctx, msg, toArgs(fields)...)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.logger.ErrorContext(ctx, msg, toArgs(fields)...)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.logger.DebugContext(ctx, msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && err != nil {
			args = append(args, slog.String(f.Key, err.Error()))
			continue
		}
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}

// redactAttr masks sensitive values at any nesting level.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if isRedactedField(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func isRedactedField(key string) bool {
	_, ok := redacted[strings.ToLower(key)]
	return ok
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) With(...Field) Logger                  { return l }
func (l noopLogger) WithCall(CallMeta) Logger              { return l }
