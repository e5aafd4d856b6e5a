package cmtspeech

import (
	"context"
	"fmt"
	"log/slog"
)

// Logger receives the connection's diagnostics. The bridge packages
// (hostgraph, signaling, journal) log through the same interface, so one
// slog handler carries the whole bridge.
//
// Errorf builds the errors a Connection returns or logs, so a Logger can
// decide how they are worded.
type Logger interface {
	ErrorPrintf(format string, args ...any)
	WarnPrintf(format string, args ...any)
	InfoPrintf(format string, args ...any)
	DebugPrintf(format string, args ...any)
	Errorf(format string, args ...any) error
}

type defaultLogger struct{}

// DefaultLogger logs to slog's default logger with a "cmtspeech: " prefix.
// It suits a Connection used on its own; a bridge that also runs the host
// graph and signalling is better served by SlogLogger with a component
// attribute per package.
func DefaultLogger() Logger {
	return defaultLogger{}
}

func (defaultLogger) ErrorPrintf(format string, args ...any) {
	logf(slog.Default(), slog.LevelError, "cmtspeech: "+format, args)
}

func (defaultLogger) WarnPrintf(format string, args ...any) {
	logf(slog.Default(), slog.LevelWarn, "cmtspeech: "+format, args)
}

func (defaultLogger) InfoPrintf(format string, args ...any) {
	logf(slog.Default(), slog.LevelInfo, "cmtspeech: "+format, args)
}

func (defaultLogger) DebugPrintf(format string, args ...any) {
	logf(slog.Default(), slog.LevelDebug, "cmtspeech: "+format, args)
}

func (defaultLogger) Errorf(format string, args ...any) error {
	return fmt.Errorf("cmtspeech: "+format, args...)
}

// SlogLogger logs to l without a package prefix. Scope l per component,
// for example slog.Default().With("component", "hostgraph"), so that
// filters and text output tell the bridge's loops apart.
func SlogLogger(l *slog.Logger) Logger {
	return slogLogger{l}
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) ErrorPrintf(format string, args ...any) {
	logf(s.l, slog.LevelError, format, args)
}

func (s slogLogger) WarnPrintf(format string, args ...any) {
	logf(s.l, slog.LevelWarn, format, args)
}

func (s slogLogger) InfoPrintf(format string, args ...any) {
	logf(s.l, slog.LevelInfo, format, args)
}

func (s slogLogger) DebugPrintf(format string, args ...any) {
	logf(s.l, slog.LevelDebug, format, args)
}

func (s slogLogger) Errorf(format string, args ...any) error {
	return fmt.Errorf("cmtspeech: "+format, args...)
}

// logf formats only when l logs at level; per-frame debug lines are common
// and usually disabled.
func logf(l *slog.Logger, level slog.Level, format string, args []any) {
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// limiter lets the first n occurrences of a repeating condition through.
// It is not safe for concurrent use; callers guard it with the lock that
// already serialises the condition.
type limiter struct {
	n, count int
}

func (l *limiter) allow() bool {
	l.count++
	return l.count <= l.n
}

func (l *limiter) reset() int {
	c := l.count
	l.count = 0
	return c
}
