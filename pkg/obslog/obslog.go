// Package obslog provides the structured logging helpers shared by every
// component, grounded on the teacher's observability package, which used
// log/slog directly rather than a third-party logging facade.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger tagged with component, matching the
// teacher's "one logger per subsystem, tagged at construction" pattern.
func New(component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("component", component)
}

// WithLevel is New but with an explicit minimum level, for components
// whose verbosity is controlled by config.Config.LogLevel.
func WithLevel(component, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler).With("component", component)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// CallContext logs the outcome of one endpoint call at the appropriate
// level: Info on success, Warn on a handled Error envelope.
func CallContext(ctx context.Context, logger *slog.Logger, uri string, ok bool, err error) {
	if err != nil {
		logger.ErrorContext(ctx, "call failed", "uri", uri, "error", err)
		return
	}
	if !ok {
		logger.WarnContext(ctx, "call denied", "uri", uri)
		return
	}
	logger.InfoContext(ctx, "call completed", "uri", uri)
}
