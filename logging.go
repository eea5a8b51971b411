package lattice

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a TextHandler on stdout as the default slog
// logger, at the given level (debug, info, warn or error). An unknown level
// leaves Info in place and is returned as an error.
//
// Applications call this at startup if they want lattice's default logging.
func ConfigureLogging(level string) error {
	l, err := parseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
	return err
}

// SetLogLevel changes the level of the logger installed by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// LogLevel returns the current level of the logger installed by
// ConfigureLogging.
func LogLevel() slog.Level {
	return logLevel.Level()
}
