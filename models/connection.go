package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	StorefrontProviderShopora = "shopora"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

// StorefrontConnection is the link between a local dashboard and one store on
// the external storefront platform. CursorStateJSON carries incremental-sync
// cursors across runs.
type StorefrontConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	StoreId           string     `gorm:"uniqueIndex;size:100;not null" json:"store_id"`
	StoreName         string     `gorm:"size:255" json:"store_name"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	CursorStateJSON   []byte     `gorm:"type:json" json:"cursor_state"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetConnectionByStoreId(ctx context.Context, db *gorm.DB, storeId string) (*StorefrontConnection, error) {
	var conn StorefrontConnection
	err := db.WithContext(ctx).Where("store_id = ?", storeId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func GetConnectionByID(ctx context.Context, db *gorm.DB, id uint) (*StorefrontConnection, error) {
	var conn StorefrontConnection
	err := db.WithContext(ctx).Where("id = ?", id).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}
