package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"gorm.io/gorm"
)

// ProductStructure is one bill-of-materials component of a composite product.
// Tiny is the source of truth for composition, so the full component set for a
// parent is replaced on every catalog sync pass.
type ProductStructure struct {
	ID                uint      `gorm:"primary_key" json:"id"`
	ProductTinyId     int64     `gorm:"uniqueIndex:idx_structure_parent,priority:1;not null" json:"product_tiny_id"`
	Account           string    `gorm:"uniqueIndex:idx_structure_parent,priority:2;size:50;not null" json:"account"`
	ComponentSku      string    `gorm:"uniqueIndex:idx_structure_parent,priority:3;size:60;not null" json:"component_sku"`
	ComponentLocation string    `gorm:"size:100" json:"component_location"`
	Name              string    `gorm:"size:255" json:"name"`
	Barcode           string    `gorm:"size:60" json:"barcode"`
	PackBarcode       string    `gorm:"size:60" json:"pack_barcode"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReplaceProductStructures swaps the component set for (parent, account) in a
// single transaction so readers never observe a half-replaced structure.
func ReplaceProductStructures(ctx context.Context, productTinyId int64, account string, structures []ProductStructure) error {
	if productTinyId == 0 || account == "" {
		return errors.New("product tiny id and account are required")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("product_tiny_id = ? AND account = ?", productTinyId, account).
			Delete(&ProductStructure{}).Error; err != nil {
			return err
		}
		for i := range structures {
			structures[i].ID = 0
			structures[i].ProductTinyId = productTinyId
			structures[i].Account = account
		}
		if len(structures) == 0 {
			return nil
		}
		return tx.Create(&structures).Error
	})
}

func GetProductStructures(ctx context.Context, productTinyId int64, account string) ([]ProductStructure, error) {
	var structures []ProductStructure
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("product_tiny_id = ? AND account = ?", productTinyId, account).
		Order("component_sku").
		Find(&structures).Error
	if err != nil {
		return nil, err
	}
	return structures, nil
}
