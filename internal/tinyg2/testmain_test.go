package tinyg2_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests complete: every
// controller event loop started by a test must have exited by Close.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
