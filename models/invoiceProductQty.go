package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// InvoiceProductQty holds the post-aggregation quantity of one product code on
// one invoice: line items sharing a code are summed before this row is written.
type InvoiceProductQty struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	InvoiceNumber string          `gorm:"uniqueIndex:idx_invoice_product,priority:1;size:20;not null" json:"invoice_number"`
	ProductCode   string          `gorm:"uniqueIndex:idx_invoice_product,priority:2;size:60;not null" json:"product_code"`
	Quantity      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertInvoiceProductQty(ctx context.Context, invoiceNumber string, productCode string, quantity decimal.Decimal) error {
	if invoiceNumber == "" || productCode == "" {
		return errors.New("invoice number and product code are required")
	}

	row := InvoiceProductQty{
		InvoiceNumber: invoiceNumber,
		ProductCode:   productCode,
		Quantity:      quantity,
	}
	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_number"}, {Name: "product_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
	}).Create(&row).Error
}

func GetInvoiceProductQtys(ctx context.Context, invoiceNumber string) ([]InvoiceProductQty, error) {
	var rows []InvoiceProductQty
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("invoice_number = ?", invoiceNumber).
		Order("product_code").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
