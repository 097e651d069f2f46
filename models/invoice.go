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

// Invoice is a cached NFe fetched from Tiny. Rows are upserted by
// (tiny_id, account), never duplicated. The access key is unique within an
// account once the NFe has been issued; invoices still pending issuance may
// not have one yet.
type Invoice struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TinyId          int64           `gorm:"uniqueIndex:idx_invoice_tiny_account,priority:1;not null" json:"tiny_id"`
	Account         string          `gorm:"uniqueIndex:idx_invoice_tiny_account,priority:2;index:idx_invoice_access_key,priority:1;size:50;not null" json:"account"`
	Number          string          `gorm:"index;size:20;not null" json:"number"`
	AccessKey       string          `gorm:"index:idx_invoice_access_key,priority:2;size:44" json:"access_key"`
	IssueDate       *time.Time      `json:"issue_date"`
	Status          string          `gorm:"size:20" json:"status"`
	CarrierName     string          `gorm:"size:255" json:"carrier_name"`
	TotalVolumes    decimal.Decimal `gorm:"type:decimal(12,2)" json:"total_volumes"`
	ProductIds      string          `gorm:"type:text" json:"product_ids"`
	ProductNames    string          `gorm:"type:text" json:"product_names"`
	ConsigneeName   string          `gorm:"size:255" json:"consignee_name"`
	Street          string          `gorm:"size:255" json:"street"`
	StreetNumber    string          `gorm:"size:30" json:"street_number"`
	Complement      string          `gorm:"size:100" json:"complement"`
	District        string          `gorm:"size:100" json:"district"`
	City            string          `gorm:"size:100" json:"city"`
	State           string          `gorm:"size:2" json:"state"`
	ZipCode         string          `gorm:"size:10" json:"zip_code"`
	Phone           string          `gorm:"size:30" json:"phone"`
	ConferenceDone  *bool           `gorm:"not null;default:false" json:"conference_done"`
	ManuallyHandled *bool           `gorm:"not null;default:false" json:"manually_handled"`
	SyncedAt        time.Time       `json:"synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertInvoice inserts or refreshes the cached row for (tiny_id, account).
// The conference/manual flags are owned by the checking workflow and are
// deliberately left out of the update set.
func UpsertInvoice(ctx context.Context, invoice *Invoice) error {
	if invoice.TinyId == 0 || invoice.Account == "" {
		return errors.New("invoice tiny id and account are required")
	}
	invoice.SyncedAt = time.Now()

	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tiny_id"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "access_key", "issue_date", "status", "carrier_name",
			"total_volumes", "product_ids", "product_names",
			"consignee_name", "street", "street_number", "complement",
			"district", "city", "state", "zip_code", "phone", "synced_at",
		}),
	}).Create(invoice).Error
}

func GetInvoiceByNumber(ctx context.Context, account string, number string) (*Invoice, error) {
	var invoice Invoice
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("account = ? AND number = ?", account, number).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// InvoiceExistsByAccessKey is the ledger sync's cache-hit short circuit:
// a summary whose access key is already cached needs no detail fetch.
func InvoiceExistsByAccessKey(ctx context.Context, account string, accessKey string) (bool, error) {
	if accessKey == "" {
		return false, nil
	}
	var count int64
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&Invoice{}).
		Where("account = ? AND access_key = ?", account, accessKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func InvoiceExistsByTinyId(ctx context.Context, account string, tinyId int64) (bool, error) {
	if tinyId == 0 {
		return false, nil
	}
	var count int64
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&Invoice{}).
		Where("account = ? AND tiny_id = ?", account, tinyId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteInvoiceByAccessKey removes a cached invoice after Tiny reports it
// cancelled. This is the only code path that deletes from the cache.
func DeleteInvoiceByAccessKey(ctx context.Context, account string, accessKey string) (bool, error) {
	if accessKey == "" {
		return false, nil
	}
	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("account = ? AND access_key = ?", account, accessKey).
		Delete(&Invoice{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
