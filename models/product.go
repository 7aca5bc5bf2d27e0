package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a mirrored catalog row. Rows are owned by the sync worker and
// keyed by (store_id, external_id); the dashboard only reads them.
type Product struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	StoreId       string          `gorm:"uniqueIndex:idx_product_store_ext,priority:1;size:100;not null" json:"store_id"`
	ExternalId    string          `gorm:"uniqueIndex:idx_product_store_ext,priority:2;size:128;not null" json:"external_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	Sku           string          `gorm:"size:100;index" json:"sku"`
	Category      string          `gorm:"size:100;index" json:"category"`
	Description   string          `gorm:"type:text" json:"description"`
	Price         decimal.Decimal `gorm:"type:decimal(20,6)" json:"price"`
	StockQuantity int             `gorm:"not null;default:0" json:"stock_quantity"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
	ImageURL      string          `gorm:"type:text" json:"image_url"`
	SyncedAt      time.Time       `json:"synced_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertSyncedProduct creates or refreshes a mirrored product row.
func UpsertSyncedProduct(ctx context.Context, db *gorm.DB, input *Product) (uint, error) {
	if strings.TrimSpace(input.StoreId) == "" || strings.TrimSpace(input.ExternalId) == "" {
		return 0, errors.New("storeId and externalId are required")
	}

	var existing Product
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
		"name":           input.Name,
		"sku":            input.Sku,
		"category":       input.Category,
		"description":    input.Description,
		"price":          input.Price,
		"stock_quantity": input.StockQuantity,
		"active":         input.Active,
		"image_url":      input.ImageURL,
		"synced_at":      input.SyncedAt,
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(update).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}

type ProductFilter struct {
	StoreId  string
	Search   string
	Category string
	Active   *bool
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

var productSortColumns = map[string]string{
	"name":           "name",
	"price":          "price",
	"stock_quantity": "stock_quantity",
	"synced_at":      "synced_at",
	"created_at":     "created_at",
}

// ListProducts backs the dashboard product table.
func ListProducts(ctx context.Context, db *gorm.DB, filter ProductFilter) ([]Product, int64, error) {
	query := db.WithContext(ctx).Model(&Product{})
	if filter.StoreId != "" {
		query = query.Where("store_id = ?", filter.StoreId)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR sku LIKE ?", like, like)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	column, ok := productSortColumns[filter.SortBy]
	if !ok {
		column = "synced_at"
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

	var products []Product
	err := query.Order(order).Limit(limit).Offset(filter.Offset).Find(&products).Error
	if err != nil {
		return nil, 0, err
	}
	return products, count, nil
}
