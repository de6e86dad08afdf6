package db

import (
	"strings"
	"time"
)

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn until it succeeds, fails with a non-busy error, or
// busyRetries attempts are spent. The wait doubles after every busy error.
func retryOnBusy(fn func() error) error {
	wait := busyBackoff
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); !isBusy(err) {
			return err
		}
		time.Sleep(wait)
		wait *= 2
	}
	return err
}
