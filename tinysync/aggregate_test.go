package tinysync

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func mapLookup(products map[string]productVolumeInfo) productVolumeLookup {
	return func(_ context.Context, code string) (productVolumeInfo, error) {
		info, ok := products[code]
		if !ok {
			return productVolumeInfo{}, errors.New("unknown code " + code)
		}
		return info, nil
	}
}

func TestAggregateInvoiceItemsSumsRepeatedCodes(t *testing.T) {
	items := []invoiceItem{
		{Code: "PISO-60", Quantity: decimal.NewFromInt(2)},
		{Code: "PISO-60", Quantity: decimal.NewFromInt(3)},
	}
	lookup := mapLookup(map[string]productVolumeInfo{
		"PISO-60": {TinyId: 101, Name: "Piso 60x60", Volumes: decimal.NewFromInt(1)},
	})

	agg, err := aggregateInvoiceItems(context.Background(), items, lookup)
	if err != nil {
		t.Fatalf("aggregateInvoiceItems: %v", err)
	}

	if len(agg.Codes) != 1 {
		t.Fatalf("expected 1 distinct code, got %d", len(agg.Codes))
	}
	if got := agg.Quantities["PISO-60"]; !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("quantity = %s, want 5", got)
	}
	if !agg.TotalVolumes.Equal(decimal.NewFromInt(5)) {
		t.Errorf("total volumes = %s, want 5", agg.TotalVolumes)
	}
}

func TestAggregateInvoiceItemsVolumeUsesAggregatedQuantity(t *testing.T) {
	// Two lines of the same kit: volumes must be priced once per unit of the
	// summed quantity, not per line.
	items := []invoiceItem{
		{Code: "KIT-A", Quantity: decimal.NewFromInt(1)},
		{Code: "KIT-A", Quantity: decimal.NewFromInt(2)},
		{Code: "AVULSO", Quantity: decimal.NewFromInt(4)},
	}
	lookup := mapLookup(map[string]productVolumeInfo{
		"KIT-A":  {TinyId: 7, Name: "Kit A", Volumes: decimal.NewFromInt(3)},
		"AVULSO": {TinyId: 8, Name: "Avulso", Volumes: decimal.RequireFromString("0.5")},
	})

	agg, err := aggregateInvoiceItems(context.Background(), items, lookup)
	if err != nil {
		t.Fatalf("aggregateInvoiceItems: %v", err)
	}

	// 3*3 + 4*0.5 = 11
	if !agg.TotalVolumes.Equal(decimal.NewFromInt(11)) {
		t.Errorf("total volumes = %s, want 11", agg.TotalVolumes)
	}
	if len(agg.ProductIds) != 2 || agg.ProductIds[0] != "7" || agg.ProductIds[1] != "8" {
		t.Errorf("product ids = %v, want [7 8] in first-seen order", agg.ProductIds)
	}
	if len(agg.ProductNames) != 2 || agg.ProductNames[0] != "Kit A" {
		t.Errorf("product names = %v", agg.ProductNames)
	}
}

func TestAggregateInvoiceItemsSkipsBlankCodes(t *testing.T) {
	items := []invoiceItem{
		{Code: "", Quantity: decimal.NewFromInt(9)},
		{Code: "X", Quantity: decimal.NewFromInt(1)},
	}
	lookup := mapLookup(map[string]productVolumeInfo{
		"X": {TinyId: 1, Name: "X", Volumes: decimal.NewFromInt(2)},
	})

	agg, err := aggregateInvoiceItems(context.Background(), items, lookup)
	if err != nil {
		t.Fatalf("aggregateInvoiceItems: %v", err)
	}
	if len(agg.Codes) != 1 || agg.Codes[0] != "X" {
		t.Fatalf("codes = %v, want [X]", agg.Codes)
	}
	if !agg.TotalVolumes.Equal(decimal.NewFromInt(2)) {
		t.Errorf("total volumes = %s, want 2", agg.TotalVolumes)
	}
}

func TestAggregateInvoiceItemsPropagatesLookupError(t *testing.T) {
	items := []invoiceItem{{Code: "MISSING", Quantity: decimal.NewFromInt(1)}}

	_, err := aggregateInvoiceItems(context.Background(), items, mapLookup(nil))
	if err == nil {
		t.Fatal("expected lookup error")
	}
}

func TestAggregateInvoiceItemsZeroVolumeProduct(t *testing.T) {
	items := []invoiceItem{{Code: "SVC", Quantity: decimal.NewFromInt(10)}}
	lookup := mapLookup(map[string]productVolumeInfo{
		"SVC": {TinyId: 3, Name: "Frete", Volumes: decimal.Zero},
	})

	agg, err := aggregateInvoiceItems(context.Background(), items, lookup)
	if err != nil {
		t.Fatalf("aggregateInvoiceItems: %v", err)
	}
	if !agg.TotalVolumes.IsZero() {
		t.Errorf("total volumes = %s, want 0", agg.TotalVolumes)
	}
	if got := agg.Quantities["SVC"]; !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("quantity = %s, want 10", got)
	}
}
