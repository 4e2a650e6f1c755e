// Package logging builds the server's structured logger.
package logging

import (
	"io"
	"log/slog"
)

// New returns a logger writing to w: JSON at info level when env is "prod",
// human-readable text at debug level otherwise.
func New(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	if env == "prod" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	return slog.New(handler)
}
