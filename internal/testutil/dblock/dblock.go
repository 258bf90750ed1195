// Package dblock serializes integration tests that share one Postgres
// database across test binaries. The lock is a loopback listener, so it is
// released automatically if a test process dies.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const (
	defaultAddr = "127.0.0.1:45432"
	waitLimit   = 2 * time.Minute
)

// Acquire blocks until the lock is held and releases it when tb finishes.
// RAMP_TEST_DB_LOCK_ADDR overrides the listener address.
func Acquire(tb testing.TB) {
	tb.Helper()
	addr := os.Getenv("RAMP_TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	deadline := time.Now().Add(waitLimit)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			tb.Cleanup(func() { ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("dblock: could not acquire %s within %s: %v", addr, waitLimit, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
