package tinysync

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/models"
	"github.com/sirupsen/logrus"
)

const catalogPageSize = 200

// SyncCatalog walks the full active product catalog of one account: every
// page of the listing, a detail fetch per product and a rebuild of kit
// structures. It claims the process-wide catalog slot first, which stops any
// running ledger syncs and waits for them to drain.
//
// Item-level failures are recorded and skipped; a page-level persistent
// failure aborts the pass (the remaining pages would hit the same wall).
func SyncCatalog(ctx context.Context, co *Coordinator, account string) error {
	logger := config.GetLogger()
	account = strings.ToLower(strings.TrimSpace(account))

	client, err := newTinyClient(account)
	if err != nil {
		return err
	}
	if err := co.BeginCatalog(ctx, account); err != nil {
		return err
	}
	defer co.EndCatalog()

	logger.WithFields(logrus.Fields{
		"module":  "tinysync",
		"account": account,
	}).Info("catalog sync started")

	var synced, skipped int
	for page := 1; ; page++ {
		if co.ShouldStopCatalog() {
			logger.WithFields(logrus.Fields{
				"module":  "tinysync",
				"account": account,
				"page":    page,
			}).Info("catalog sync stopping early: emission page active")
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		client.throttle()
		ret, err := client.callWithRetry(ctx, "produtos.pesquisa.php", url.Values{
			"pagina":               {strconv.Itoa(page)},
			"registros_por_pagina": {strconv.Itoa(catalogPageSize)},
			"situacao":             {"A"},
		}, defaultMaxAttempts)
		if err != nil {
			if errors.Is(err, errNoRecords) {
				break
			}
			config.LogError(logger, "tinysync", "SyncCatalog", "catalog page fetch failed; aborting pass", map[string]any{
				"account": account,
				"page":    page,
			}, err)
			return err
		}
		if len(ret.Produtos) == 0 {
			break
		}

		for _, wrapper := range ret.Produtos {
			if co.ShouldStopCatalog() {
				break
			}
			tinyId := int64FromNumber(wrapper.Produto.ID)
			if err := syncProduct(ctx, client, tinyId); err != nil {
				if cErr := ctx.Err(); cErr != nil {
					return cErr
				}
				skipped++
				config.LogError(logger, "tinysync", "SyncCatalog", "product sync failed; skipping", map[string]any{
					"account": account,
					"tinyId":  tinyId,
					"sku":     wrapper.Produto.Codigo,
				}, err)
				_ = models.CreateSyncError(ctx, account, "product",
					strconv.FormatInt(tinyId, 10), syncErrorCode(err), err.Error(), true)
				continue
			}
			synced++
		}

		if page >= lastPage(ret) {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"module":  "tinysync",
		"account": account,
		"synced":  synced,
		"skipped": skipped,
	}).Info("catalog sync finished")
	return nil
}

// syncProduct refreshes one product's detail and rebuilds its kit structure.
func syncProduct(ctx context.Context, client *tinyClient, tinyId int64) error {
	product, err := client.fetchProductDetail(ctx, tinyId)
	if err != nil {
		return err
	}
	if err := models.UpsertProduct(ctx, product); err != nil {
		return err
	}
	return syncProductStructure(ctx, client, product)
}

// syncProductStructure fetches the kit composition and swaps the stored rows
// in one transaction. A component whose own detail cannot be fetched keeps
// its id-only row rather than sinking the whole structure.
func syncProductStructure(ctx context.Context, client *tinyClient, product *models.Product) error {
	client.throttle()
	ret, err := client.callWithRetry(ctx, "produto.obter.estrutura.php", url.Values{
		"id": {strconv.FormatInt(product.TinyId, 10)},
	}, defaultMaxAttempts)
	if err != nil {
		if errors.Is(err, errNoRecords) {
			// Plain product, no kit structure. Clear whatever an earlier
			// composition left behind.
			return models.ReplaceProductStructures(ctx, product.TinyId, product.Account, nil)
		}
		return err
	}

	structures := make([]models.ProductStructure, 0, len(ret.Estrutura))
	for _, wrapper := range ret.Estrutura {
		componentId := int64FromNumber(wrapper.Item.IdProdutoComponente)
		row := models.ProductStructure{
			ProductTinyId: product.TinyId,
			Account:       product.Account,
			ComponentSku:  strconv.FormatInt(componentId, 10),
			Name:          strings.TrimSpace(wrapper.Item.NomeComponente),
		}

		component, err := client.fetchProductDetail(ctx, componentId)
		if err == nil {
			row.ComponentSku = component.Sku
			row.Name = component.Name
			row.ComponentLocation = component.Location
			row.Barcode = component.Barcode
			row.PackBarcode = component.PackBarcode
			_ = models.UpsertProduct(ctx, component)
		} else if cErr := ctx.Err(); cErr != nil {
			return cErr
		} else {
			config.LogError(client.logger, "tinysync", "syncProductStructure", "component detail fetch failed; keeping listing data", map[string]any{
				"account":     product.Account,
				"productId":   product.TinyId,
				"componentId": componentId,
			}, err)
		}
		structures = append(structures, row)
	}

	return models.ReplaceProductStructures(ctx, product.TinyId, product.Account, structures)
}

func lastPage(ret *tinyRetorno) int {
	n := int64FromNumber(ret.NumeroPaginas)
	if n < 1 {
		return 1
	}
	return int(n)
}

func syncErrorCode(err error) string {
	var persistent *PersistentFailure
	if errors.As(err, &persistent) {
		return "persistent_failure"
	}
	if errors.Is(err, errNoRecords) {
		return tinyErrorCodeNoRecords
	}
	return "error"
}
