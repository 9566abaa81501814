// Package obslog is the runtime's structured logger: slog underneath,
// with level/format configuration, context-correlated ids, and a redaction
// pass over every message and attribute so credential material never
// reaches a log sink — including values known only to the credential
// vault, via an attachable scrubber.
package obslog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
)

// LogConfig configures a Logger.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error. Default info.
	Level string
	// Format is "json" (default) or "text".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in records.
	AddSource bool
	// RedactPatterns are extra regexes redacted on top of the built-in
	// set; invalid patterns are skipped.
	RedactPatterns []string
}

// Logger wraps slog with redaction. The zero value is not usable; call
// NewLogger.
type Logger struct {
	slogger *slog.Logger
	redacts []*regexp.Regexp
	// scrubber is the vault-backed pass, swapped atomically so it can be
	// attached after the vault opens without racing in-flight log calls.
	scrubber atomic.Pointer[func(string) string]
}

// ContextKey keys the correlation ids a caller may place on a context.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	UserIDKey    ContextKey = "user_id"
	ChannelKey   ContextKey = "channel"
)

// contextAttrKeys pairs each context key with its attribute name, in
// emission order.
var contextAttrKeys = []struct {
	key  ContextKey
	attr string
}{
	{RequestIDKey, "request_id"},
	{SessionIDKey, "session_id"},
	{UserIDKey, "user_id"},
	{ChannelKey, "channel"},
}

// builtinRedacts covers secret shapes recognizable without knowing any
// particular credential: key=value assignments of sensitive names,
// provider API key prefixes, and JWTs.
var builtinRedacts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|password|passwd|pwd|token)[\s:=]+["']?[^\s"']{8,}["']?`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]{16,}`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{24,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
}

// sensitiveMapKeys are map keys whose values are redacted wholesale.
var sensitiveMapKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

// NewLogger builds a Logger from cfg, applying defaults for anything
// unset.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: levelFrom(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	redacts := append([]*regexp.Regexp(nil), builtinRedacts...)
	for _, pattern := range cfg.RedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return &Logger{slogger: slog.New(handler), redacts: redacts}
}

func levelFrom(s string) slog.Level {
	switch strings.ToLower(s) {
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

// AttachScrubber installs a pass run over every logged string after the
// regex redaction. The credential vault's leak scanner supplies one, so
// exact stored values are caught even where no pattern would fire. Safe to
// call while other goroutines log.
func (l *Logger) AttachScrubber(fn func(string) string) {
	l.scrubber.Store(&fn)
}

// WithFields returns a Logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	child := &Logger{slogger: l.slogger.With(args...), redacts: l.redacts}
	if fn := l.scrubber.Load(); fn != nil {
		child.scrubber.Store(fn)
	}
	return child
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+8)
	for _, ck := range contextAttrKeys {
		if v, ok := ctx.Value(ck.key).(string); ok && v != "" {
			attrs = append(attrs, ck.attr, v)
		}
	}
	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}
	l.slogger.Log(ctx, level, l.redactString(msg), attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return l.redactMap(m)
	default:
		if b, err := json.Marshal(v); err == nil && strings.ContainsAny(string(b), "{[\"") {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	if fn := l.scrubber.Load(); fn != nil {
		s = (*fn)(s)
	}
	return s
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveMapKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = l.redactValue(v)
	}
	return out
}

// WithRequestID, WithSessionID, WithUserID, and WithChannel stamp the
// correlation ids Logger.log picks back up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}
