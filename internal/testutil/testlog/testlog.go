package testlog

import (
	"testing"

	"github.com/danmuck/rcpctl/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging once and tags the output with the test name.
func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}
