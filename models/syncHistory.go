package models

import "time"

// SyncHistory is an append-only audit row, written exactly once per sync
// attempt at its conclusion. It is independent of the live SyncProgress row:
// history survives even when progress bookkeeping failed mid-run.
type SyncHistory struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	StoreId        string    `gorm:"index;size:100;not null" json:"store_id"`
	OrdersSynced   int       `gorm:"not null;default:0" json:"orders_synced"`
	ProductsSynced int       `gorm:"not null;default:0" json:"products_synced"`
	Status         string    `gorm:"size:20;not null" json:"status"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CompletedAt    time.Time `json:"completed_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncHistory) TableName() string {
	return "sync_history"
}
