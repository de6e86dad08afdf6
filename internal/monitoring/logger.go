package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// now is swapped in tests.
var now = time.Now

// Timed logs the start of a detection stage and returns a func that logs its
// elapsed time. Typical use: defer monitoring.Timed("interactions")().
func Timed(stage string) func() {
	start := now()
	Logf("[%s] started", stage)
	return func() {
		Logf("[%s] finished in %s", stage, now().Sub(start).Round(time.Millisecond))
	}
}
