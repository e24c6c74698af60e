package state

import "time"

// SetNow pins the clock and returns a restore func.
// This file only compiles during `go test`.
func SetNow(t time.Time) func() {
	prev := timeNow
	timeNow = func() time.Time { return t }
	return func() { timeNow = prev }
}
