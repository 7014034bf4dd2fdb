package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output, info level;
// set LOG_LEVEL=debug for verbose request logging.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
