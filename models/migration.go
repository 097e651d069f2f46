package models

import (
	"log"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Invoice{}, &SalesOrder{},
		&Product{}, &ProductStructure{},
		&InvoiceProductQty{},
		&ShippingReport{},
		&SyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
