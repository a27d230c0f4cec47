package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so entries are
// machine-parseable in aggregation.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
