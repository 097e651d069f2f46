package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product is a cached Tiny product. Volumes is the per-unit shipping-package
// count used to compute how many packages an invoice ships as.
type Product struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TinyId          int64           `gorm:"uniqueIndex:idx_product_tiny_account,priority:1;not null" json:"tiny_id"`
	Account         string          `gorm:"uniqueIndex:idx_product_tiny_account,priority:2;uniqueIndex:idx_product_sku_account,priority:2;size:50;not null" json:"account"`
	Sku             string          `gorm:"uniqueIndex:idx_product_sku_account,priority:1;size:60;not null" json:"sku"`
	Name            string          `gorm:"size:255" json:"name"`
	CostPrice       decimal.Decimal `gorm:"type:decimal(13,2)" json:"cost_price"`
	GrossWeight     decimal.Decimal `gorm:"type:decimal(10,3)" json:"gross_weight"`
	Volumes         decimal.Decimal `gorm:"type:decimal(10,2)" json:"volumes"`
	Location        string          `gorm:"size:100" json:"location"`
	Barcode         string          `gorm:"size:60" json:"barcode"`
	PackBarcode     string          `gorm:"size:60" json:"pack_barcode"`
	MarketplaceType string          `gorm:"size:50" json:"marketplace_type"`
	SyncedAt        time.Time       `json:"synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertProduct(ctx context.Context, product *Product) error {
	if product.TinyId == 0 || product.Account == "" || product.Sku == "" {
		return errors.New("product tiny id, account and sku are required")
	}
	product.SyncedAt = time.Now()

	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tiny_id"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sku", "name", "cost_price", "gross_weight", "volumes",
			"location", "barcode", "pack_barcode",
			"marketplace_type", "synced_at",
		}),
	}).Create(product).Error
}

func GetProductBySku(ctx context.Context, account string, sku string) (*Product, error) {
	var product Product
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("account = ? AND sku = ?", account, sku).
		Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// GetProductsBySkus returns the cached products for a SKU set, keyed by SKU.
// Missing SKUs are simply absent from the map.
func GetProductsBySkus(ctx context.Context, account string, skus []string) (map[string]*Product, error) {
	result := make(map[string]*Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	var products []*Product
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("account = ? AND sku IN ?", account, skus).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.Sku] = p
	}
	return result, nil
}
