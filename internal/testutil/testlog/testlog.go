package testlog

import (
	"os"
	"testing"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/rs/zerolog"
)

// Start configures test logging and returns a logger tagged with the test
// name. Output goes to stderr rather than t.Log so goroutines that outlive
// the test can still log.
func Start(t *testing.T) *zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).
		Level(zerolog.DebugLevel).
		With().
		Str("test", t.Name()).
		Logger()
	logger.Info().Msg("test start")
	return &logger
}
