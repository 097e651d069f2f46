package tinysync

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"bitbucket.org/grupoeliane/expedicao_backend/models"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
	"github.com/sirupsen/logrus"
)

// syncInvoiceFromDetail turns a fetched NFe detail into cache rows: the
// aggregated per-product quantities, the invoice itself and, when the NFe
// references an e-commerce order, that order too. Shared by the on-demand
// resolver and the ledger synchronizer so both write identical rows.
func syncInvoiceFromDetail(ctx context.Context, client *tinyClient, nota *tinyNotaFiscal) error {
	items := make([]invoiceItem, 0, len(nota.Itens))
	for _, wrapper := range nota.Itens {
		items = append(items, invoiceItem{
			Code:        strings.TrimSpace(wrapper.Item.Codigo),
			Description: wrapper.Item.Descricao,
			Quantity:    decimalFromNumber(wrapper.Item.Quantidade),
		})
	}

	agg, err := aggregateInvoiceItems(ctx, items, client.productVolumeLookup())
	if err != nil {
		return err
	}

	for _, code := range agg.Codes {
		if err := models.UpsertInvoiceProductQty(ctx, nota.Numero, code, agg.Quantities[code]); err != nil {
			return err
		}
	}

	// The order is a nice-to-have for the shipping screens; a failed order
	// fetch must not block caching the invoice.
	if ecommerceNumber := strings.TrimSpace(nota.NumeroEcommerce); ecommerceNumber != "" {
		if _, err := syncOrderByEcommerceNumber(ctx, client, ecommerceNumber); err != nil {
			client.logger.WithFields(logrus.Fields{
				"module":          "tinysync",
				"account":         client.account,
				"invoiceNumber":   nota.Numero,
				"ecommerceNumber": ecommerceNumber,
			}).Warn("order sync alongside invoice failed: " + err.Error())
		}
	}

	invoice := invoiceFromNota(client.account, nota)
	invoice.TotalVolumes = agg.TotalVolumes
	invoice.ProductIds = utils.JoinDistinct(agg.ProductIds)
	invoice.ProductNames = utils.JoinDistinct(agg.ProductNames)
	return models.UpsertInvoice(ctx, invoice)
}

func invoiceFromNota(account string, nota *tinyNotaFiscal) *models.Invoice {
	return &models.Invoice{
		TinyId:        int64FromNumber(nota.ID),
		Account:       account,
		Number:        strings.TrimSpace(nota.Numero),
		AccessKey:     strings.TrimSpace(nota.ChaveAcesso),
		IssueDate:     parseTinyDate(nota.DataEmissao),
		Status:        nota.Situacao.String(),
		CarrierName:   strings.TrimSpace(nota.NomeTransportador),
		ConsigneeName: strings.TrimSpace(nota.Cliente.Nome),
		Street:        strings.TrimSpace(nota.Cliente.Endereco),
		StreetNumber:  strings.TrimSpace(nota.Cliente.Numero),
		Complement:    strings.TrimSpace(nota.Cliente.Complemento),
		District:      strings.TrimSpace(nota.Cliente.Bairro),
		City:          strings.TrimSpace(nota.Cliente.Cidade),
		State:         strings.TrimSpace(nota.Cliente.UF),
		ZipCode:       strings.TrimSpace(nota.Cliente.CEP),
		Phone:         utils.NormalizePhoneNumber(nota.Cliente.Fone),
	}
}

// productVolumeLookup resolves product codes cache-first. A miss triggers a
// throttled remote search + detail fetch and the product is upserted so the
// next invoice referencing it hits the cache. A code Tiny itself does not
// know (decommissioned SKUs show up on old invoices) resolves to zero volumes
// rather than failing the whole invoice.
func (c *tinyClient) productVolumeLookup() productVolumeLookup {
	return func(ctx context.Context, code string) (productVolumeInfo, error) {
		cached, err := models.GetProductBySku(ctx, c.account, code)
		if err != nil {
			return productVolumeInfo{}, err
		}
		if cached != nil {
			return productVolumeInfo{
				TinyId:  cached.TinyId,
				Name:    cached.Name,
				Volumes: cached.Volumes,
			}, nil
		}

		product, err := c.fetchProductBySku(ctx, code)
		if err != nil {
			if errors.Is(err, errNoRecords) {
				c.logger.WithFields(logrus.Fields{
					"module":  "tinysync",
					"account": c.account,
					"sku":     code,
				}).Warn("product code unknown to tiny; assuming zero volumes")
				return productVolumeInfo{}, nil
			}
			return productVolumeInfo{}, err
		}
		if err := models.UpsertProduct(ctx, product); err != nil {
			return productVolumeInfo{}, err
		}
		return productVolumeInfo{
			TinyId:  product.TinyId,
			Name:    product.Name,
			Volumes: product.Volumes,
		}, nil
	}
}

// fetchProductBySku searches Tiny for an exact SKU and pulls the full detail.
func (c *tinyClient) fetchProductBySku(ctx context.Context, sku string) (*models.Product, error) {
	c.throttle()
	search, err := c.callWithRetry(ctx, "produtos.pesquisa.php", url.Values{
		"pesquisa": {sku},
	}, defaultMaxAttempts)
	if err != nil {
		return nil, err
	}

	var tinyId int64
	for _, wrapper := range search.Produtos {
		if strings.EqualFold(strings.TrimSpace(wrapper.Produto.Codigo), sku) {
			tinyId = int64FromNumber(wrapper.Produto.ID)
			break
		}
	}
	if tinyId == 0 {
		// Search matched by substring but none is this SKU.
		return nil, errNoRecords
	}

	return c.fetchProductDetail(ctx, tinyId)
}

func (c *tinyClient) fetchProductDetail(ctx context.Context, tinyId int64) (*models.Product, error) {
	c.throttle()
	ret, err := c.callWithRetry(ctx, "produto.obter.php", url.Values{
		"id": {strconv.FormatInt(tinyId, 10)},
	}, defaultMaxAttempts)
	if err != nil {
		return nil, err
	}
	if ret.Produto == nil {
		return nil, errNoRecords
	}
	return productFromProduto(c.account, ret.Produto), nil
}

func productFromProduto(account string, produto *tinyProduto) *models.Product {
	return &models.Product{
		TinyId:          int64FromNumber(produto.ID),
		Account:         account,
		Sku:             strings.TrimSpace(produto.Codigo),
		Name:            strings.TrimSpace(produto.Nome),
		CostPrice:       decimalFromNumber(produto.PrecoCusto),
		GrossWeight:     decimalFromNumber(produto.PesoBruto),
		Volumes:         decimalFromNumber(produto.Volumes),
		Location:        strings.TrimSpace(produto.Localizacao),
		Barcode:         strings.TrimSpace(produto.GTIN),
		PackBarcode:     strings.TrimSpace(produto.GTINEmbalagem),
		MarketplaceType: strings.TrimSpace(produto.ClasseProduto),
	}
}

// syncOrderByEcommerceNumber finds the sales order behind a marketplace
// number, caches its detail and returns the cached row.
func syncOrderByEcommerceNumber(ctx context.Context, client *tinyClient, ecommerceNumber string) (*models.SalesOrder, error) {
	client.throttle()
	search, err := client.callWithRetry(ctx, "pedidos.pesquisa.php", url.Values{
		"numeroEcommerce": {ecommerceNumber},
	}, defaultMaxAttempts)
	if err != nil {
		return nil, err
	}
	if len(search.Pedidos) == 0 {
		return nil, errNoRecords
	}

	tinyId := int64FromNumber(search.Pedidos[0].Pedido.ID)
	client.throttle()
	ret, err := client.callWithRetry(ctx, "pedido.obter.php", url.Values{
		"id": {strconv.FormatInt(tinyId, 10)},
	}, defaultMaxAttempts)
	if err != nil {
		return nil, err
	}
	if ret.Pedido == nil {
		return nil, errNoRecords
	}

	order := orderFromPedido(client.account, ret.Pedido)
	if err := models.UpsertSalesOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func orderFromPedido(account string, pedido *tinyPedido) *models.SalesOrder {
	return &models.SalesOrder{
		TinyId:          int64FromNumber(pedido.ID),
		Account:         account,
		Number:          strings.TrimSpace(pedido.Numero),
		EcommerceNumber: strings.TrimSpace(pedido.NumeroEcommerce),
		OrderDate:       parseTinyDate(pedido.DataPedido),
		Total:           decimalFromNumber(pedido.TotalPedido),
		Freight:         decimalFromNumber(pedido.ValorFrete),
		Discount:        decimalFromNumber(pedido.ValorDesconto),
		Fees:            decimalFromNumber(pedido.OutrasDespesas),
		InvoiceTinyId:   int64FromNumber(pedido.IdNotaFiscal),
		InvoiceNumber:   strings.TrimSpace(pedido.NumeroNota),
		ConsigneeName:   strings.TrimSpace(pedido.Cliente.Nome),
		Street:          strings.TrimSpace(pedido.Cliente.Endereco),
		StreetNumber:    strings.TrimSpace(pedido.Cliente.Numero),
		Complement:      strings.TrimSpace(pedido.Cliente.Complemento),
		District:        strings.TrimSpace(pedido.Cliente.Bairro),
		City:            strings.TrimSpace(pedido.Cliente.Cidade),
		State:           strings.TrimSpace(pedido.Cliente.UF),
		ZipCode:         strings.TrimSpace(pedido.Cliente.CEP),
		Phone:           utils.NormalizePhoneNumber(pedido.Cliente.Fone),
	}
}

// fetchInvoiceDetail pulls the full NFe by Tiny id.
func (c *tinyClient) fetchInvoiceDetail(ctx context.Context, tinyId int64, maxAttempts int) (*tinyNotaFiscal, error) {
	c.throttle()
	ret, err := c.callWithRetry(ctx, "nota.fiscal.obter.php", url.Values{
		"id": {strconv.FormatInt(tinyId, 10)},
	}, maxAttempts)
	if err != nil {
		return nil, err
	}
	if ret.NotaFiscal == nil {
		return nil, errNoRecords
	}
	return ret.NotaFiscal, nil
}
