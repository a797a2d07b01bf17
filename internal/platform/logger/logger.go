// Package logger builds the zerolog loggers used across the service.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a stdout JSON logger tagged with the service name, filtered
// to the given minimum level. Unknown level strings fall back to info so a
// misconfigured COACH_LOG_LEVEL never silences the service.
func New(serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
