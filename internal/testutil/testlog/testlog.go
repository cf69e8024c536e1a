package testlog

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/zmqport/internal/logging"
)

// Start returns a logger that writes through t.Log using the test profile.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := logging.New(logging.Configure(logging.ProfileTest), zerolog.NewTestWriter(t))
	logger.Info().Str("test", t.Name()).Msg("start")
	return logger
}
