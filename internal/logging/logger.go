package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// GEMINI_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// GEMINI_LOG_FORMAT=json switches from the console writer to raw JSON lines,
// which is what the Lambda runtime wants.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("GEMINI_LOG_LEVEL")))

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if os.Getenv("GEMINI_LOG_FORMAT") == "json" {
		out = os.Stderr
	}
	log.Logger = log.Output(out)
}

// ParseLevel maps the GEMINI_LOG_LEVEL values onto zerolog levels.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
