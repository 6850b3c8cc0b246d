// Package log wraps slog with the level and format switches read from the
// environment: LOG_LEVEL (error, warn, info, debug, trace) and LOG_FORMAT
// (json or text).
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LevelTrace sits below debug and covers per-event chatter
const LevelTrace = slog.Level(-8)

var levelNames = map[string]slog.Level{
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
	"trace": LevelTrace,
}

var (
	level  atomic.Int64
	outMu  sync.Mutex
	output io.Writer = os.Stderr
)

func init() {
	l, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		l = slog.LevelInfo
	}
	level.Store(int64(l))
	rebuild()
}

func parseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		s = "warn"
	}
	l, ok := levelNames[s]
	if !ok {
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
	return l, nil
}

func currentLevel() slog.Level {
	return slog.Level(level.Load())
}

func rebuild() {
	outMu.Lock()
	defer outMu.Unlock()

	opts := &slog.HandlerOptions{Level: currentLevel()}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		opts.ReplaceAttr = replaceAttr("timestamp", time.RFC3339Nano, true)
		handler = slog.NewJSONHandler(output, opts)
	} else {
		opts.ReplaceAttr = replaceAttr(slog.TimeKey, "15:04:05.000", false)
		handler = slog.NewTextHandler(output, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func replaceAttr(timeKey, layout string, utc bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			t := a.Value.Time()
			if utc {
				t = t.UTC()
			}
			return slog.String(timeKey, t.Format(layout))
		case slog.LevelKey:
			if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return a
	}
}

// SetOutput redirects log output, mostly useful in tests
func SetOutput(w io.Writer) {
	outMu.Lock()
	output = w
	outMu.Unlock()
	rebuild()
}

// SetLogLevel changes the level at runtime
func SetLogLevel(name string) error {
	l, err := parseLevel(name)
	if err != nil {
		return err
	}
	level.Store(int64(l))
	rebuild()
	return nil
}

// GetLogLevel returns the current level name
func GetLogLevel() string {
	cur := currentLevel()
	for name, l := range levelNames {
		if l == cur {
			return name
		}
	}
	return "unknown"
}

// TokenFields describes a credential for logging without its value
func TokenFields(value string, expiry time.Time) map[string]any {
	fields := map[string]any{"token_len": len(value)}
	if !expiry.IsZero() {
		fields["expires_in"] = time.Until(expiry).Round(time.Second).String()
	}
	return fields
}

func Logf(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...))
}

func LogTrace(format string, args ...any) {
	slog.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func withComponent(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	slog.Info(message, withComponent(component, fields)...)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	slog.Debug(message, withComponent(component, fields)...)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	slog.Error(message, withComponent(component, fields)...)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	slog.Warn(message, withComponent(component, fields)...)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	slog.Log(context.Background(), LevelTrace, message, withComponent(component, fields)...)
}
