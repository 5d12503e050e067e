package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout bounds unit-test contexts and Eventually waits.
const DefaultTimeout = 5 * time.Second

// Context derives a context from the test's own context with a timeout,
// trimmed so it expires a second before the go test deadline.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deadline, ok := t.Deadline(); ok {
		if remaining := time.Until(deadline) - time.Second; remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	ctx, cancel := context.WithTimeout(t.Context(), timeout)
	t.Cleanup(cancel)
	return ctx
}
