package synctrack

import (
	"errors"
	"fmt"
)

// ErrStaleWrite means a write targeted a progress record that is no longer
// in_progress, usually because the job raced with its own completion or with
// a poller's stale reconciliation. It is expected and informational: the sync
// keeps running, its progress reports are simply dropped once superseded.
var ErrStaleWrite = errors.New("progress record is no longer in_progress")

// ErrStorageUnavailable wraps persistence failures so callers can decide
// policy (retry, alert, ignore) instead of the tracker swallowing them.
var ErrStorageUnavailable = errors.New("progress storage unavailable")

func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
