package synctrack

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HistoryRecorder appends one audit row per finished sync attempt. History is
// best-effort observability: callers log the returned error and move on, a
// failed history write never fails the sync.
type HistoryRecorder struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHistoryRecorder(db *gorm.DB, logger *logrus.Logger) *HistoryRecorder {
	return &HistoryRecorder{db: db, logger: logger}
}

func (r *HistoryRecorder) Record(ctx context.Context, storeId string, ordersSynced int, productsSynced int, status string, errorMessage string) error {
	entry := models.SyncHistory{
		StoreId:        resolveHistoryStore(ctx, storeId),
		OrdersSynced:   ordersSynced,
		ProductsSynced: productsSynced,
		Status:         status,
		ErrorMessage:   errorMessage,
		CompletedAt:    time.Now().UTC(),
	}
	if entry.StoreId == "" {
		r.logger.Warn("sync history entry without store id dropped")
		return nil
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return storageError(err)
	}
	return nil
}

// resolveHistoryStore falls back to the store the sync run stamped on the
// context when the caller passes a blank id.
func resolveHistoryStore(ctx context.Context, storeId string) string {
	storeId = strings.TrimSpace(storeId)
	if storeId == "" {
		if fromCtx, ok := utils.GetStoreIdFromContext(ctx); ok {
			storeId = strings.TrimSpace(fromCtx)
		}
	}
	return storeId
}
