// Package testlog gives tests a logger configured with the test profile.
package testlog

import (
	"testing"

	"github.com/najoast/gearledger/logging"
	"github.com/rs/zerolog"
)

// Start configures test logging, logs the test name and returns a logger
// tagged with it.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := logging.ConfigureTests().With().Str("test", t.Name()).Logger()
	logger.Info().Msg("start")
	return logger
}
