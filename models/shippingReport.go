package models

import (
	"context"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
)

// ShippingReport is the downstream checking/reporting record for one shipped
// NFe. It is produced by the conference workflow; the sync core only flips the
// Cancelled flag when Tiny reports the underlying invoice cancelled.
type ShippingReport struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	AccessKey      string     `gorm:"index;size:44;not null" json:"access_key"`
	Account        string     `gorm:"index;size:50;not null" json:"account"`
	InvoiceNumber  string     `gorm:"index;size:20" json:"invoice_number"`
	Cancelled      *bool      `gorm:"not null;default:false" json:"cancelled"`
	ConferenceDone *bool      `gorm:"not null;default:false" json:"conference_done"`
	ConferredAt    *time.Time `json:"conferred_at"`
	ConferredBy    string     `gorm:"size:100" json:"conferred_by"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkShippingReportsCancelled flags every report row referencing the access
// key. Returns the number of rows touched; zero is normal when the invoice was
// cancelled before conference ever happened.
func MarkShippingReportsCancelled(ctx context.Context, account string, accessKey string) (int64, error) {
	if accessKey == "" {
		return 0, nil
	}
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&ShippingReport{}).
		Where("account = ? AND access_key = ?", account, accessKey).
		Update("cancelled", utils.NewTrue())
	return result.RowsAffected, result.Error
}
