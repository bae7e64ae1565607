package client

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutine leaks across all tests in this package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
