// Package testutil holds helpers shared by package tests.
package testutil

import (
	"runtime"
	"testing"
	"time"
)

const (
	leakDeadline = 5 * time.Second
	leakPoll     = 50 * time.Millisecond
)

// Baseline returns the goroutine count once goroutines left over from
// earlier tests have had a moment to exit.
func Baseline() int {
	runtime.Gosched()
	time.Sleep(leakPoll)
	return runtime.NumGoroutine()
}

// AssertNoGoroutineLeaks waits until the goroutine count is back within
// margin of baseline. On timeout it fails with a dump of every live stack.
func AssertNoGoroutineLeaks(t testing.TB, baseline, margin int) {
	t.Helper()
	deadline := time.Now().Add(leakDeadline)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+margin {
			return
		}
		time.Sleep(leakPoll)
	}
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Errorf("goroutine leak: baseline=%d, current=%d, margin=%d\n%s",
		baseline, runtime.NumGoroutine(), margin, buf[:n])
}
