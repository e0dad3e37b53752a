package logger

import (
	"io"
	"log/slog"
	"os"

	"review-collab/internal/config"
)

// Setup builds the process logger for the given environment.
func Setup(env string) *slog.Logger {
	return New(env, os.Stdout)
}

// New builds a logger writing to w: human readable text for local runs,
// JSON everywhere else.
func New(env string, w io.Writer) *slog.Logger {
	switch env {
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// Err wraps an error as a log attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("<nil>")}
	}
	return slog.Attr{Key: "error", Value: slog.StringValue(err.Error())}
}

// Discard returns a logger that drops everything. Use in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
