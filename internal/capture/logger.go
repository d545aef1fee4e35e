package capture

import (
	"context"
	"log/slog"
)

// Logger receives the human-readable capture lines. It is independent of persistence.
type Logger interface {
	Log(line string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(line string)

func (f LoggerFunc) Log(line string) { f(line) }

type slogLogger struct {
	l *slog.Logger
}

// SlogLogger writes every line as an info record on l, or on slog.Default() when l is nil.
func SlogLogger(l *slog.Logger) Logger {
	return slogLogger{l: l}
}

func (s slogLogger) Log(line string) {
	l := s.l
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, line, slog.String("component", "capture"))
}

// Discard drops every line.
var Discard Logger = LoggerFunc(func(string) {})
