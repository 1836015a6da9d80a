package app

import (
	"os"
	"strconv"
)

// TestModeEnv is set by the testing package; the binaries exit before touching
// postgres or redis when it is true.
const TestModeEnv = "MOSTRADOR_TEST_MODE"

// InTestMode reports whether TestModeEnv is set to a true value.
func InTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
}
