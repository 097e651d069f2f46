package tinysync

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

// invoiceItem is one raw NFe line item. The same product code can appear on
// several lines of one invoice (split shipments, kit explosions); aggregation
// collapses them before any volume math happens.
type invoiceItem struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
}

// productVolumeInfo is what the aggregation needs to know about one product.
type productVolumeInfo struct {
	TinyId  int64
	Name    string
	Volumes decimal.Decimal
}

// productVolumeLookup resolves a product code to its per-unit shipping-volume
// figure. The production lookup tries the cache first and falls back to a
// remote fetch; tests plug in a map.
type productVolumeLookup func(ctx context.Context, code string) (productVolumeInfo, error)

type invoiceAggregate struct {
	// Quantities maps product code to the summed quantity across all line
	// items sharing that code.
	Quantities map[string]decimal.Decimal

	// codes preserves first-seen order so concatenated id/name lists are
	// stable between runs.
	Codes []string

	TotalVolumes decimal.Decimal
	ProductIds   []string
	ProductNames []string
}

// aggregateInvoiceItems groups line items by product code, sums quantities
// per code and prices the total shipping volume:
//
//	total = sum over distinct codes of (unit volumes * aggregated quantity)
//
// Shared by the on-demand resolver and the ledger synchronizer so both
// compute identical totals.
func aggregateInvoiceItems(ctx context.Context, items []invoiceItem, lookup productVolumeLookup) (*invoiceAggregate, error) {
	agg := &invoiceAggregate{
		Quantities: make(map[string]decimal.Decimal, len(items)),
	}

	for _, item := range items {
		if item.Code == "" {
			continue
		}
		if _, seen := agg.Quantities[item.Code]; !seen {
			agg.Codes = append(agg.Codes, item.Code)
		}
		agg.Quantities[item.Code] = agg.Quantities[item.Code].Add(item.Quantity)
	}

	for _, code := range agg.Codes {
		info, err := lookup(ctx, code)
		if err != nil {
			return nil, err
		}
		agg.TotalVolumes = agg.TotalVolumes.Add(info.Volumes.Mul(agg.Quantities[code]))
		if info.TinyId != 0 {
			agg.ProductIds = append(agg.ProductIds, strconv.FormatInt(info.TinyId, 10))
		}
		if info.Name != "" {
			agg.ProductNames = append(agg.ProductNames, info.Name)
		}
	}
	return agg, nil
}
