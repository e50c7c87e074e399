// Package testing flips the console into test mode when imported by a test
// binary, so cmd entry points and background listeners stay idle.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CONSOLE_TEST_MODE", "1")
		if os.Getenv("RBAC_CACHE_TTL") == "" {
			_ = os.Setenv("RBAC_CACHE_TTL", "0")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
