package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is a mirrored order row with its line items. Like products, orders
// are owned by the sync worker and keyed by (store_id, external_id).
type Order struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	StoreId       string          `gorm:"uniqueIndex:idx_order_store_ext,priority:1;size:100;not null" json:"store_id"`
	ExternalId    string          `gorm:"uniqueIndex:idx_order_store_ext,priority:2;size:128;not null" json:"external_id"`
	OrderNumber   string          `gorm:"size:100;index" json:"order_number"`
	Status        string          `gorm:"size:50;index" json:"status"`
	CustomerName  string          `gorm:"size:255" json:"customer_name"`
	CustomerEmail string          `gorm:"size:255" json:"customer_email"`
	CustomerPhone string          `gorm:"size:50" json:"customer_phone"`
	Currency      string          `gorm:"size:10" json:"currency"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,6)" json:"total_amount"`
	PlacedAt      *time.Time      `json:"placed_at"`
	SyncedAt      time.Time       `json:"synced_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	OrderId           uint            `gorm:"index;not null" json:"order_id"`
	ProductExternalId string          `gorm:"size:128" json:"product_external_id"`
	Name              string          `gorm:"size:255;not null" json:"name"`
	Quantity          int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_price"`
	TotalPrice        decimal.Decimal `gorm:"type:decimal(20,6)" json:"total_price"`
}

// UpsertSyncedOrder creates or refreshes a mirrored order. Line items are
// replaced wholesale on update; the storefront payload is the source of truth.
func UpsertSyncedOrder(ctx context.Context, db *gorm.DB, input *Order) (uint, error) {
	if strings.TrimSpace(input.StoreId) == "" || strings.TrimSpace(input.ExternalId) == "" {
		return 0, errors.New("storeId and externalId are required")
	}

	var existing Order
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

	items := input.Items
	update := map[string]interface{}{
		"order_number":   input.OrderNumber,
		"status":         input.Status,
		"customer_name":  input.CustomerName,
		"customer_email": input.CustomerEmail,
		"customer_phone": input.CustomerPhone,
		"currency":       input.Currency,
		"total_amount":   input.TotalAmount,
		"placed_at":      input.PlacedAt,
		"synced_at":      input.SyncedAt,
	}
	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&existing).Updates(update).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", existing.ID).Delete(&OrderItem{}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].OrderId = existing.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return existing.ID, nil
}

type OrderFilter struct {
	StoreId  string
	Search   string
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

var orderSortColumns = map[string]string{
	"order_number": "order_number",
	"total_amount": "total_amount",
	"placed_at":    "placed_at",
	"synced_at":    "synced_at",
}

// ListOrders backs the dashboard order table.
func ListOrders(ctx context.Context, db *gorm.DB, filter OrderFilter) ([]Order, int64, error) {
	query := db.WithContext(ctx).Model(&Order{})
	if filter.StoreId != "" {
		query = query.Where("store_id = ?", filter.StoreId)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("order_number LIKE ? OR customer_name LIKE ? OR customer_email LIKE ?", like, like, like)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	column, ok := orderSortColumns[filter.SortBy]
	if !ok {
		column = "placed_at"
		filter.SortDesc = true
	}
	order := column
	if filter.SortDesc {
		order += " desc"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var orders []Order
	err := query.Preload("Items").Order(order).Limit(limit).Offset(filter.Offset).Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, count, nil
}
