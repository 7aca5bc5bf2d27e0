package synctrack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"github.com/sirupsen/logrus"
)

// fakeStore is an in-memory ProgressStore. A single mutex stands in for the
// per-row atomicity the real MySQL store provides.
type fakeStore struct {
	mu      sync.Mutex
	lockMu  sync.Mutex
	nextID  uint
	recs    map[uint]*models.SyncProgress
	inserts int
	schemas int

	findErr   error
	updateErr error
	// beforeUpdate runs inside the lock just before a CAS applies, so tests
	// can interleave a competing write.
	beforeUpdate func(rec *models.SyncProgress)
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[uint]*models.SyncProgress{}}
}

func (f *fakeStore) FindActive(_ context.Context, storeId string) (*models.SyncProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var best *models.SyncProgress
	for _, rec := range f.recs {
		if rec.StoreId != storeId || rec.Status != models.SyncProgressStatusInProgress {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	return copyRec(best), nil
}

func (f *fakeStore) FindLatest(_ context.Context, storeId string) (*models.SyncProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var best *models.SyncProgress
	for _, rec := range f.recs {
		if rec.StoreId != storeId {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) || (rec.UpdatedAt.Equal(best.UpdatedAt) && rec.ID > best.ID) {
			best = rec
		}
	}
	return copyRec(best), nil
}

func (f *fakeStore) FindByID(_ context.Context, id uint) (*models.SyncProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return copyRec(f.recs[id]), nil
}

func (f *fakeStore) Insert(_ context.Context, rec *models.SyncProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	f.recs[rec.ID] = copyRec(rec)
	f.inserts++
	return nil
}

func (f *fakeStore) UpdateIfInProgress(_ context.Context, id uint, patch map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return false, f.updateErr
	}
	rec, ok := f.recs[id]
	if !ok {
		return false, nil
	}
	if f.beforeUpdate != nil {
		hook := f.beforeUpdate
		f.beforeUpdate = nil
		hook(rec)
	}
	if rec.Status != models.SyncProgressStatusInProgress {
		return false, nil
	}
	for key, value := range patch {
		switch key {
		case "current":
			rec.Current = value.(int)
		case "total":
			rec.Total = value.(int)
		case "status":
			rec.Status = value.(string)
		case "notes":
			rec.Notes = value.(string)
		case "updated_at":
			rec.UpdatedAt = value.(time.Time)
		default:
			return false, fmt.Errorf("unexpected patch column %q", key)
		}
	}
	return true, nil
}

func (f *fakeStore) EnsureSchema(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas++
	return nil
}

func (f *fakeStore) WithStoreLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	return fn(ctx)
}

func copyRec(rec *models.SyncProgress) *models.SyncProgress {
	if rec == nil {
		return nil
	}
	out := *rec
	return &out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestTracker(store ProgressStore, clock *fakeClock) *Tracker {
	return &Tracker{
		store:      store,
		logger:     quietLogger(),
		staleAfter: DefaultStaleTimeout,
		now:        clock.Now,
	}
}

func TestStartCreatesInProgressRecord(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)

	rec, err := tracker.Start(context.Background(), "store-1", 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected store-assigned id")
	}
	if rec.Status != models.SyncProgressStatusInProgress {
		t.Fatalf("expected in_progress, got %s", rec.Status)
	}
	if rec.Current != 0 || rec.Total != 0 {
		t.Fatalf("expected zeroed counters, got current=%d total=%d", rec.Current, rec.Total)
	}
	if !rec.StartedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("startedAt and updatedAt must match at creation")
	}
	if rec.ConnectionId != 7 {
		t.Fatalf("expected connectionId 7, got %d", rec.ConnectionId)
	}
	if store.schemas != 1 {
		t.Fatalf("expected one EnsureSchema call, got %d", store.schemas)
	}
}

func TestStartValidatesArguments(t *testing.T) {
	tracker := newTestTracker(newFakeStore(), newFakeClock())

	if _, err := tracker.Start(context.Background(), "  ", 1); err == nil {
		t.Fatalf("expected error for blank storeId")
	}
	if _, err := tracker.Start(context.Background(), "store-1", 0); err == nil {
		t.Fatalf("expected error for missing connectionId")
	}
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())
	ctx := context.Background()

	first, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same record, got ids %d and %d", first.ID, second.ID)
	}
	if store.inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", store.inserts)
	}
	if second.Current != first.Current || second.Total != first.Total {
		t.Fatalf("second Start must return the first record unchanged")
	}
}

func TestStartConcurrentSingleInsert(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())

	const callers = 16
	ids := make([]uint, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := tracker.Start(context.Background(), "store-3", 3)
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	if store.inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", store.inserts)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("all callers must receive the same record id; got %v", ids)
		}
	}
}

func TestReportUpdatesCountersMonotonically(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	rec, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, current := range []int{10, 50, 120, 200} {
		clock.Advance(30 * time.Second)
		if err := tracker.Report(ctx, rec.ID, current, 200, ""); err != nil {
			t.Fatalf("Report(%d): %v", current, err)
		}
		stored, _ := store.FindByID(ctx, rec.ID)
		if stored.Current != current {
			t.Fatalf("expected stored current %d, got %d", current, stored.Current)
		}
		if stored.Total != 200 {
			t.Fatalf("expected stored total 200, got %d", stored.Total)
		}
		if !stored.UpdatedAt.Equal(clock.Now().UTC()) {
			t.Fatalf("report must advance updatedAt")
		}
		if !stored.StartedAt.Equal(rec.StartedAt) {
			t.Fatalf("report must not touch startedAt")
		}
	}
}

func TestReportGrowsTotalToCoverCurrent(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())
	ctx := context.Background()

	rec, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := tracker.Report(ctx, rec.ID, 300, 200, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	stored, _ := store.FindByID(ctx, rec.ID)
	if stored.Current != 300 || stored.Total != 300 {
		t.Fatalf("total must cover current, got current=%d total=%d", stored.Current, stored.Total)
	}

	// An unknown total (zero) is left alone.
	if err := tracker.Report(ctx, rec.ID, 400, 0, ""); err != nil {
		t.Fatalf("Report with unknown total: %v", err)
	}
	stored, _ = store.FindByID(ctx, rec.ID)
	if stored.Current != 400 || stored.Total != 0 {
		t.Fatalf("zero total must stay zero, got current=%d total=%d", stored.Current, stored.Total)
	}
}

func TestReportRejectsNegativeCounters(t *testing.T) {
	tracker := newTestTracker(newFakeStore(), newFakeClock())
	if err := tracker.Report(context.Background(), 1, -1, 10, ""); err == nil {
		t.Fatalf("expected error for negative current")
	}
	if err := tracker.Report(context.Background(), 1, 1, -10, ""); err == nil {
		t.Fatalf("expected error for negative total")
	}
}

func TestReportAfterFinishIsStaleWrite(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())
	ctx := context.Background()

	rec, _ := tracker.Start(ctx, "store-1", 1)
	if err := tracker.Report(ctx, rec.ID, 50, 200, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := tracker.Finish(ctx, rec.ID, models.SyncProgressStatusCompleted, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	err := tracker.Report(ctx, rec.ID, 60, 200, "")
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	stored, _ := store.FindByID(ctx, rec.ID)
	if stored.Status != models.SyncProgressStatusCompleted || stored.Current != 50 || stored.Total != 200 {
		t.Fatalf("terminal record must stay unchanged, got %+v", stored)
	}
}

func TestFinishIsIdempotentAndTerminal(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())
	ctx := context.Background()

	rec, _ := tracker.Start(ctx, "store-1", 1)
	if err := tracker.Finish(ctx, rec.ID, models.SyncProgressStatusCompleted, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Second finish, with a different outcome, must change nothing.
	if err := tracker.Finish(ctx, rec.ID, models.SyncProgressStatusFailed, "late failure"); err != nil {
		t.Fatalf("idempotent Finish: %v", err)
	}

	stored, _ := store.FindByID(ctx, rec.ID)
	if stored.Status != models.SyncProgressStatusCompleted {
		t.Fatalf("expected completed to stick, got %s", stored.Status)
	}
	if stored.Notes == "late failure" {
		t.Fatalf("terminal record notes must not change")
	}
}

func TestFinishRejectsInvalidOutcome(t *testing.T) {
	tracker := newTestTracker(newFakeStore(), newFakeClock())
	if err := tracker.Finish(context.Background(), 1, "paused", ""); err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}

func TestStatusWithNoRecords(t *testing.T) {
	tracker := newTestTracker(newFakeStore(), newFakeClock())

	status, err := tracker.Status(context.Background(), "store-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.InProgress || status.ReconciledStale || status.Record != nil {
		t.Fatalf("expected empty status, got %+v", status)
	}
}

func TestStatusReportsActiveRecord(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	rec, _ := tracker.Start(ctx, "store-1", 1)
	_ = tracker.Report(ctx, rec.ID, 50, 200, "")

	clock.Advance(5 * time.Minute)
	status, err := tracker.Status(ctx, "store-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.InProgress || status.ReconciledStale {
		t.Fatalf("expected live in-progress status, got %+v", status)
	}
	if status.Record.Current != 50 || status.Record.Total != 200 {
		t.Fatalf("unexpected counters %+v", status.Record)
	}
}

func TestStatusSelfHealsStaleRecord(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	rec, _ := tracker.Start(ctx, "store-2", 2)

	clock.Advance(16 * time.Minute)
	status, err := tracker.Status(ctx, "store-2")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.InProgress {
		t.Fatalf("stale record must not be reported as in progress")
	}
	if !status.ReconciledStale {
		t.Fatalf("expected reconciledStale")
	}

	stored, _ := store.FindByID(ctx, rec.ID)
	if stored.Status != models.SyncProgressStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.Notes != "Sync timed out after 15 minutes of inactivity" {
		t.Fatalf("unexpected notes %q", stored.Notes)
	}

	// A later poll sees a plain terminal record, no further reconciliation.
	status, err = tracker.Status(ctx, "store-2")
	if err != nil {
		t.Fatalf("second Status: %v", err)
	}
	if status.InProgress || status.ReconciledStale {
		t.Fatalf("expected settled terminal status, got %+v", status)
	}
}

func TestStatusAtExactTimeoutIsNotStale(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	_, _ = tracker.Start(ctx, "store-1", 1)

	clock.Advance(15 * time.Minute)
	status, err := tracker.Status(ctx, "store-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.InProgress || status.ReconciledStale {
		t.Fatalf("exactly at the timeout must still count as live, got %+v", status)
	}
}

func TestStatusStaleRaceWithLegitimateFinish(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	rec, _ := tracker.Start(ctx, "store-1", 1)
	clock.Advance(16 * time.Minute)

	// The job finishes between the poller's read and its CAS.
	store.beforeUpdate = func(r *models.SyncProgress) {
		r.Status = models.SyncProgressStatusCompleted
	}

	status, err := tracker.Status(ctx, "store-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ReconciledStale {
		t.Fatalf("losing the CAS must not be reported as reconciliation")
	}
	if status.InProgress {
		t.Fatalf("completed record reported as in progress")
	}
	if status.Record == nil || status.Record.Status != models.SyncProgressStatusCompleted {
		t.Fatalf("expected the winning completion to be returned, got %+v", status.Record)
	}

	stored, _ := store.FindByID(ctx, rec.ID)
	if stored.Status != models.SyncProgressStatusCompleted {
		t.Fatalf("completion must win the race, got %s", stored.Status)
	}
}

func TestStatusSurfacesStorageErrors(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(store, newFakeClock())

	store.findErr = errors.New("connection refused")
	_, err := tracker.Status(context.Background(), "store-1")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	rec, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tracker.Report(ctx, rec.ID, 50, 200, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := tracker.Finish(ctx, rec.ID, models.SyncProgressStatusCompleted, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	status, err := tracker.Status(ctx, "store-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.InProgress {
		t.Fatalf("finished sync still reported in progress")
	}
	if status.Record.Status != models.SyncProgressStatusCompleted {
		t.Fatalf("expected completed, got %s", status.Record.Status)
	}
	if status.Record.Current != 50 || status.Record.Total != 200 {
		t.Fatalf("unexpected final counters %+v", status.Record)
	}

	// A fresh Start after completion opens a new record.
	again, err := tracker.Start(ctx, "store-1", 1)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.ID == rec.ID {
		t.Fatalf("expected a new record after completion")
	}
	if store.inserts != 2 {
		t.Fatalf("expected two inserts, got %d", store.inserts)
	}
}
