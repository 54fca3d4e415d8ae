package bootstrap

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/config"
)

// SetupLogger builds the process logger and sets the global level.
// A nil out writes to stdout.
func SetupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	SetLogLevel(cfg.Level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLogLevel sets the global level, falling back to info for unknown
// names.
func SetLogLevel(name string) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
