package synctrack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"github.com/sirupsen/logrus"
)

// Tracker owns the lifecycle of sync progress records: at most one active
// record per store, terminal immutability, and stale-job reconciliation.
// All coordination goes through the ProgressStore; the tracker itself keeps
// no per-store state, so it can be called concurrently by the sync job and
// by any number of status pollers.
type Tracker struct {
	store      ProgressStore
	logger     *logrus.Logger
	staleAfter time.Duration
	now        func() time.Time

	provisionOnce sync.Once
	provisionErr  error
}

func NewTracker(store ProgressStore, logger *logrus.Logger) *Tracker {
	return &Tracker{
		store:      store,
		logger:     logger,
		staleAfter: config.StaleSyncTimeout(),
		now:        time.Now,
	}
}

func (t *Tracker) ensureSchema(ctx context.Context) error {
	t.provisionOnce.Do(func() {
		t.provisionErr = t.store.EnsureSchema(ctx)
	})
	if t.provisionErr != nil {
		return storageError(t.provisionErr)
	}
	return nil
}

// Start marks a sync as in progress for a store. If an active record already
// exists this is an idempotent no-op returning the existing record, so two
// concurrent jobs cannot end up sharing (and corrupting) counters.
func (t *Tracker) Start(ctx context.Context, storeId string, connectionId uint) (*models.SyncProgress, error) {
	storeId = strings.TrimSpace(storeId)
	if storeId == "" {
		return nil, errors.New("storeId is required")
	}
	if connectionId == 0 {
		return nil, errors.New("connectionId is required")
	}

	if err := t.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var rec *models.SyncProgress
	err := t.store.WithStoreLock(ctx, storeId, func(ctx context.Context) error {
		existing, err := t.store.FindActive(ctx, storeId)
		if err != nil {
			return storageError(err)
		}
		if existing != nil {
			t.logger.WithFields(logrus.Fields{
				"store_id":    storeId,
				"progress_id": existing.ID,
			}).Info("sync already in progress; reusing progress record")
			rec = existing
			return nil
		}

		now := t.now().UTC()
		fresh := &models.SyncProgress{
			StoreId:      storeId,
			ConnectionId: connectionId,
			Status:       models.SyncProgressStatusInProgress,
			Current:      0,
			Total:        0,
			StartedAt:    now,
			UpdatedAt:    now,
		}
		if err := t.store.Insert(ctx, fresh); err != nil {
			return storageError(err)
		}
		rec = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Report updates the counters of an active record. When the record has
// already left in_progress it returns ErrStaleWrite and changes nothing.
func (t *Tracker) Report(ctx context.Context, id uint, current int, total int, notes string) error {
	if current < 0 || total < 0 {
		return errors.New("current and total must be non-negative")
	}
	// A nonzero total must cover current. Totals that only grow as pages
	// arrive can briefly lag the item count, so grow rather than reject.
	if total != 0 && current > total {
		total = current
	}

	patch := map[string]interface{}{
		"current":    current,
		"total":      total,
		"updated_at": t.now().UTC(),
	}
	if notes != "" {
		patch["notes"] = notes
	}

	changed, err := t.store.UpdateIfInProgress(ctx, id, patch)
	if err != nil {
		return storageError(err)
	}
	if !changed {
		return ErrStaleWrite
	}
	return nil
}

// Finish transitions an active record to completed or failed. Finishing an
// already-terminal record is a no-op, which keeps a legitimate completion and
// a concurrent stale reconciliation mutually idempotent.
func (t *Tracker) Finish(ctx context.Context, id uint, outcome string, notes string) error {
	if outcome != models.SyncProgressStatusCompleted && outcome != models.SyncProgressStatusFailed {
		return fmt.Errorf("invalid outcome %q", outcome)
	}

	patch := map[string]interface{}{
		"status":     outcome,
		"updated_at": t.now().UTC(),
	}
	if notes != "" {
		patch["notes"] = notes
	}

	changed, err := t.store.UpdateIfInProgress(ctx, id, patch)
	if err != nil {
		return storageError(err)
	}
	if !changed {
		t.logger.WithFields(logrus.Fields{
			"progress_id": id,
			"outcome":     outcome,
		}).Info("finish on terminal progress record ignored")
	}
	return nil
}

// Status is the tracker's read path for a store.
type Status struct {
	InProgress      bool                 `json:"inProgress"`
	ReconciledStale bool                 `json:"reconciledStale"`
	Record          *models.SyncProgress `json:"record,omitempty"`
}

// Status returns the latest progress for a store. When the latest record is
// in_progress but stale it is failed in place before returning, so every
// poller doubles as the liveness reaper and no cron job is needed.
func (t *Tracker) Status(ctx context.Context, storeId string) (Status, error) {
	if err := t.ensureSchema(ctx); err != nil {
		return Status{}, err
	}

	rec, err := t.store.FindLatest(ctx, storeId)
	if err != nil {
		return Status{}, storageError(err)
	}
	if rec == nil {
		return Status{}, nil
	}

	if rec.Status == models.SyncProgressStatusInProgress && IsStale(rec.UpdatedAt, t.now(), t.staleAfter) {
		note := fmt.Sprintf("Sync timed out after %s of inactivity", staleTimeoutText(t.staleAfter))
		now := t.now().UTC()
		changed, err := t.store.UpdateIfInProgress(ctx, rec.ID, map[string]interface{}{
			"status":     models.SyncProgressStatusFailed,
			"notes":      note,
			"updated_at": now,
		})
		if err != nil {
			return Status{}, storageError(err)
		}
		if changed {
			t.logger.WithFields(logrus.Fields{
				"store_id":    storeId,
				"progress_id": rec.ID,
				"stale_after": t.staleAfter.String(),
			}).Warn("reconciled stale sync as failed")
			rec.Status = models.SyncProgressStatusFailed
			rec.Notes = note
			rec.UpdatedAt = now
			return Status{InProgress: false, ReconciledStale: true, Record: rec}, nil
		}
		// Lost the race against a legitimate finish or another poller; re-read.
		fresh, err := t.store.FindByID(ctx, rec.ID)
		if err != nil {
			return Status{}, storageError(err)
		}
		if fresh != nil {
			rec = fresh
		}
	}

	return Status{InProgress: !rec.Terminal(), Record: rec}, nil
}
