package models

import (
	"context"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
)

// SyncError captures one skipped item inside a sync pass. Item-level failures
// never abort a pass; they are recorded here and in the logs.
type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	Account     string    `gorm:"index;size:50;not null" json:"account"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	TriggeredBy string    `gorm:"size:20" json:"triggered_by"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncError(ctx context.Context, account string, entityType string, externalId string, code string, message string, retryable bool) error {
	triggeredBy, _ := utils.GetTriggeredByFromContext(ctx)
	errRec := SyncError{
		Account:     account,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		TriggeredBy: triggeredBy,
		Retryable:   retryable,
	}
	db := config.GetDB()
	return db.WithContext(ctx).Create(&errRec).Error
}

func ListSyncErrors(ctx context.Context, account string, limit int) ([]SyncError, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []SyncError
	db := config.GetDB()
	query := db.WithContext(ctx).Order("id DESC").Limit(limit)
	if account != "" {
		query = query.Where("account = ?", account)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
