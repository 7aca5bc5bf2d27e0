package synctrack

import (
	"fmt"
	"time"
)

// DefaultStaleTimeout is how long an in-progress sync may go without a
// progress report before it is presumed dead. Override per tracker via
// SYNC_STALE_TIMEOUT_SECONDS (see config.StaleSyncTimeout).
const DefaultStaleTimeout = 15 * time.Minute

// IsStale reports whether an in-progress record last updated at updatedAt is
// stale as of now. Strict inequality: a record exactly timeout old is NOT
// stale yet.
func IsStale(updatedAt time.Time, now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	return now.Sub(updatedAt) > timeout
}

// staleTimeoutText renders the timeout for the reconciliation note: whole
// minutes as "15 minutes" or "1 minute", anything shorter in seconds.
func staleTimeoutText(timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	if timeout >= time.Minute && timeout%time.Minute == 0 {
		minutes := int(timeout / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	seconds := int(timeout / time.Second)
	if seconds == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", seconds)
}
