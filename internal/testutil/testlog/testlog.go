// Package testlog quiets the global logger for tests and tags output with
// the running test name when WARDEN_TEST_LOG asks for it.
package testlog

import (
	"os"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const EnvTestLog = "WARDEN_TEST_LOG"

// Start installs a discard logger unless WARDEN_TEST_LOG is truthy, and
// returns a logger for components under test.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	if verbose, _ := strconv.ParseBool(os.Getenv(EnvTestLog)); verbose {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().
			Timestamp().
			Str("test", t.Name()).
			Logger()
		log.Logger = logger
		return logger
	}
	logger := zerolog.Nop()
	log.Logger = logger
	return logger
}
