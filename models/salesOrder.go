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

// SalesOrder is a cached Tiny sales order. The invoice back-reference is kept
// redundantly as both the Tiny id and the human-readable number because
// different call paths learn one or the other first.
type SalesOrder struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TinyId          int64           `gorm:"uniqueIndex:idx_order_tiny_account,priority:1;not null" json:"tiny_id"`
	Account         string          `gorm:"uniqueIndex:idx_order_tiny_account,priority:2;size:50;not null" json:"account"`
	Number          string          `gorm:"index;size:20" json:"number"`
	EcommerceNumber string          `gorm:"index;size:60" json:"ecommerce_number"`
	OrderDate       *time.Time      `json:"order_date"`
	Total           decimal.Decimal `gorm:"type:decimal(13,2)" json:"total"`
	Freight         decimal.Decimal `gorm:"type:decimal(13,2)" json:"freight"`
	Discount        decimal.Decimal `gorm:"type:decimal(13,2)" json:"discount"`
	Fees            decimal.Decimal `gorm:"type:decimal(13,2)" json:"fees"`
	InvoiceTinyId   int64           `gorm:"index" json:"invoice_tiny_id"`
	InvoiceNumber   string          `gorm:"index;size:20" json:"invoice_number"`
	ConsigneeName   string          `gorm:"size:255" json:"consignee_name"`
	Street          string          `gorm:"size:255" json:"street"`
	StreetNumber    string          `gorm:"size:30" json:"street_number"`
	Complement      string          `gorm:"size:100" json:"complement"`
	District        string          `gorm:"size:100" json:"district"`
	City            string          `gorm:"size:100" json:"city"`
	State           string          `gorm:"size:2" json:"state"`
	ZipCode         string          `gorm:"size:10" json:"zip_code"`
	Phone           string          `gorm:"size:30" json:"phone"`
	SyncedAt        time.Time       `json:"synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertSalesOrder(ctx context.Context, order *SalesOrder) error {
	if order.TinyId == 0 || order.Account == "" {
		return errors.New("sales order tiny id and account are required")
	}
	order.SyncedAt = time.Now()

	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tiny_id"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "ecommerce_number", "order_date", "total", "freight",
			"discount", "fees", "invoice_tiny_id", "invoice_number",
			"consignee_name", "street", "street_number", "complement",
			"district", "city", "state", "zip_code", "phone", "synced_at",
		}),
	}).Create(order).Error
}

func GetSalesOrderByEcommerceNumber(ctx context.Context, account string, ecommerceNumber string) (*SalesOrder, error) {
	var order SalesOrder
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("account = ? AND ecommerce_number = ?", account, ecommerceNumber).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
