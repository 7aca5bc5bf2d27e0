package synctrack

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"gorm.io/gorm"
)

// ProgressStore is the narrow persistence contract the tracker needs. The
// tracker never reaches around it, so tests can substitute an in-memory fake.
type ProgressStore interface {
	// FindActive returns the in_progress record for a store, or nil.
	FindActive(ctx context.Context, storeId string) (*models.SyncProgress, error)
	// FindLatest returns the most recently updated record for a store, or nil.
	FindLatest(ctx context.Context, storeId string) (*models.SyncProgress, error)
	FindByID(ctx context.Context, id uint) (*models.SyncProgress, error)
	Insert(ctx context.Context, rec *models.SyncProgress) error
	// UpdateIfInProgress applies patch only while the record is still
	// in_progress (compare-and-swap on status). Reports whether a row changed.
	UpdateIfInProgress(ctx context.Context, id uint, patch map[string]interface{}) (bool, error)
	// EnsureSchema provisions the progress table. Idempotent, safe to call
	// repeatedly and concurrently.
	EnsureSchema(ctx context.Context) error
	// WithStoreLock runs fn while holding a per-store advisory lock, so
	// check-then-insert sequences cannot interleave across instances.
	WithStoreLock(ctx context.Context, storeId string, fn func(ctx context.Context) error) error
}

type gormProgressStore struct {
	db *gorm.DB
}

// NewGormProgressStore returns a ProgressStore backed by MySQL through GORM.
func NewGormProgressStore(db *gorm.DB) ProgressStore {
	return &gormProgressStore{db: db}
}

func (s *gormProgressStore) FindActive(ctx context.Context, storeId string) (*models.SyncProgress, error) {
	var recs []models.SyncProgress
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND status = ?", storeId, models.SyncProgressStatusInProgress).
		Order("updated_at desc").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *gormProgressStore) FindLatest(ctx context.Context, storeId string) (*models.SyncProgress, error) {
	var recs []models.SyncProgress
	err := s.db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("updated_at desc").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *gormProgressStore) FindByID(ctx context.Context, id uint) (*models.SyncProgress, error) {
	var rec models.SyncProgress
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormProgressStore) Insert(ctx context.Context, rec *models.SyncProgress) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *gormProgressStore) UpdateIfInProgress(ctx context.Context, id uint, patch map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.SyncProgress{}).
		Where("id = ? AND status = ?", id, models.SyncProgressStatusInProgress).
		Updates(patch)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormProgressStore) EnsureSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.SyncProgress{})
}

// WithStoreLock serializes per store across instances using MySQL advisory
// locks. NOTE: GET_LOCK is connection-scoped, so the whole critical section
// is pinned to a single pooled connection.
func (s *gormProgressStore) WithStoreLock(ctx context.Context, storeId string, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		lockName := fmt.Sprintf("syncprogress:%s", storeId)
		var ok int
		if err := tx.Raw("SELECT GET_LOCK(?, 10)", lockName).Scan(&ok).Error; err != nil {
			return err
		}
		if ok != 1 {
			return fmt.Errorf("could not acquire progress lock for store_id=%s", storeId)
		}
		defer func() {
			var released int
			_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
		}()
		return fn(ctx)
	})
}
