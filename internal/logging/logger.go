// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "EXTRACT_LOG_LEVEL"

// Init initializes the global logger from the environment.
// EXTRACT_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// Inside Lambda the output stays JSON so CloudWatch can index fields; elsewhere
// a console writer is used.
func Init() {
	InitWith(os.Getenv(LevelEnv), os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "", os.Stderr)
}

// InitWith initializes the global logger with an explicit level and output.
func InitWith(level string, console bool, out io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
