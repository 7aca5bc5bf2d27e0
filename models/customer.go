package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Customer is a mirrored storefront customer.
type Customer struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	StoreId     string          `gorm:"uniqueIndex:idx_customer_store_ext,priority:1;size:100;not null" json:"store_id"`
	ExternalId  string          `gorm:"uniqueIndex:idx_customer_store_ext,priority:2;size:128;not null" json:"external_id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Email       string          `gorm:"size:255;index" json:"email"`
	Phone       string          `gorm:"size:50" json:"phone"`
	OrdersCount int             `gorm:"not null;default:0" json:"orders_count"`
	TotalSpent  decimal.Decimal `gorm:"type:decimal(20,6)" json:"total_spent"`
	SyncedAt    time.Time       `json:"synced_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertSyncedCustomer(ctx context.Context, db *gorm.DB, input *Customer) (uint, error) {
	if strings.TrimSpace(input.StoreId) == "" || strings.TrimSpace(input.ExternalId) == "" {
		return 0, errors.New("storeId and externalId are required")
	}

	var existing Customer
	err := db.WithContext(ctx).
		Where("store_id = ? AND external_id = ?", input.StoreId, input.ExternalId).
		Take(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		if err := db.WithContext(ctx).Create(input).Error; err != nil {
			return 0, err
		}
		return input.ID, nil
	}

	update := map[string]interface{}{
		"name":         input.Name,
		"email":        input.Email,
		"phone":        input.Phone,
		"orders_count": input.OrdersCount,
		"total_spent":  input.TotalSpent,
		"synced_at":    input.SyncedAt,
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(update).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}
