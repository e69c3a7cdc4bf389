package vcbana

import (
	"io"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging routes the global zerolog logger to a console writer on
// stderr. Verbose enables debug events.
func SetupLogging(prefix string, verbose bool) {
	SetupLoggingTo(os.Stderr, prefix, verbose)
}

func SetupLoggingTo(w io.Writer, prefix string, verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	if prefix != "" {
		logger = logger.With().Str("tool", prefix).Logger()
	}
	log.Logger = logger
}

// StartProfile starts a CPU profile written under dir when dir is not empty.
// The returned function stops it and is always safe to defer.
func StartProfile(dir string) func() {
	if dir == "" {
		return func() {}
	}
	return profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet).Stop
}
