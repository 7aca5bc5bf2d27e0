package models

import "time"

const (
	SyncProgressStatusInProgress = "in_progress"
	SyncProgressStatusCompleted  = "completed"
	SyncProgressStatusFailed     = "failed"
)

// SyncProgress is the live-status row for the currently (or most recently)
// running sync job of a store. At most one row per store may be in_progress
// at any instant; that invariant is owned by synctrack.Tracker, not by the
// storage layer.
//
// StartedAt is set once at creation and never mutated. UpdatedAt moves on
// every mutation and is the sole input to staleness detection. Once Status
// leaves in_progress the row is terminal and no field changes again.
type SyncProgress struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	StoreId      string    `gorm:"index;size:100;not null" json:"store_id"`
	ConnectionId uint      `gorm:"index;not null" json:"connection_id"`
	Status       string    `gorm:"size:20;not null" json:"status"`
	Current      int       `gorm:"not null;default:0" json:"current"`
	Total        int       `gorm:"not null;default:0" json:"total"`
	Notes        string    `gorm:"type:text" json:"notes"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `gorm:"index" json:"updated_at"`
}

func (SyncProgress) TableName() string {
	return "sync_progress"
}

func (sp *SyncProgress) Terminal() bool {
	return sp.Status == SyncProgressStatusCompleted || sp.Status == SyncProgressStatusFailed
}
