package tinysync

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// tinyNumber tolerates Tiny's habit of sending numeric values as JSON
// strings ("id":"501") and occasionally as bare numbers ("codigo_erro":20).
type tinyNumber string

func (n *tinyNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*n = tinyNumber(strings.TrimSpace(v))
		return nil
	}
	*n = tinyNumber(s)
	return nil
}

func (n tinyNumber) String() string { return string(n) }

// Tiny API envelope. Every endpoint answers
// {"retorno": {"status": "OK"|"Erro", ...}} with the payload keyed per
// endpoint; list payloads wrap each element one level deep
// ([{"produto": {...}}, ...]).
type tinyEnvelope struct {
	Retorno tinyRetorno `json:"retorno"`
}

type tinyRetorno struct {
	Status        string     `json:"status"`
	CodigoErro    tinyNumber `json:"codigo_erro"`
	Erros         []tinyErro `json:"erros"`
	Pagina        tinyNumber `json:"pagina"`
	NumeroPaginas tinyNumber `json:"numero_paginas"`

	Produtos     []tinyProdutoWrapper   `json:"produtos"`
	Produto      *tinyProduto           `json:"produto"`
	Estrutura    []tinyEstruturaWrapper `json:"estrutura"`
	NotasFiscais []tinyNotaWrapper      `json:"notas_fiscais"`
	NotaFiscal   *tinyNotaFiscal        `json:"nota_fiscal"`
	Pedidos      []tinyPedidoWrapper    `json:"pedidos"`
	Pedido       *tinyPedido            `json:"pedido"`
}

type tinyErro struct {
	Erro string `json:"erro"`
}

type tinyProdutoWrapper struct {
	Produto tinyProduto `json:"produto"`
}

type tinyProduto struct {
	ID            tinyNumber `json:"id"`
	Codigo        string     `json:"codigo"`
	Nome          string     `json:"nome"`
	Tipo          string     `json:"tipo"`
	Situacao      string     `json:"situacao"`
	PrecoCusto    tinyNumber `json:"preco_custo"`
	PesoBruto     tinyNumber `json:"peso_bruto"`
	Volumes       tinyNumber `json:"volumes"`
	Localizacao   string     `json:"localizacao"`
	GTIN          string     `json:"gtin"`
	GTINEmbalagem string     `json:"gtin_embalagem"`
	ClasseProduto string     `json:"classe_produto"`
}

type tinyEstruturaWrapper struct {
	Item tinyEstruturaItem `json:"item"`
}

type tinyEstruturaItem struct {
	IdProdutoComponente tinyNumber `json:"id_produto_componente"`
	NomeComponente      string     `json:"nome_componente"`
	Quantidade          tinyNumber `json:"quantidade"`
}

type tinyNotaWrapper struct {
	NotaFiscal tinyNotaFiscal `json:"nota_fiscal"`
}

type tinyNotaFiscal struct {
	ID                tinyNumber        `json:"id"`
	Numero            string            `json:"numero"`
	ChaveAcesso       string            `json:"chave_acesso"`
	DataEmissao       string            `json:"data_emissao"`
	Situacao          tinyNumber        `json:"situacao"`
	NomeTransportador string            `json:"nome_transportador"`
	NumeroEcommerce   string            `json:"numero_ecommerce"`
	Cliente           tinyCliente       `json:"cliente"`
	Itens             []tinyItemWrapper `json:"itens"`
}

type tinyItemWrapper struct {
	Item tinyNotaItem `json:"item"`
}

type tinyNotaItem struct {
	Codigo        string     `json:"codigo"`
	Descricao     string     `json:"descricao"`
	Unidade       string     `json:"unidade"`
	Quantidade    tinyNumber `json:"quantidade"`
	ValorUnitario tinyNumber `json:"valor_unitario"`
}

type tinyCliente struct {
	Nome        string `json:"nome"`
	Endereco    string `json:"endereco"`
	Numero      string `json:"numero"`
	Complemento string `json:"complemento"`
	Bairro      string `json:"bairro"`
	Cidade      string `json:"cidade"`
	UF          string `json:"uf"`
	CEP         string `json:"cep"`
	Fone        string `json:"fone"`
}

type tinyPedidoWrapper struct {
	Pedido tinyPedido `json:"pedido"`
}

type tinyPedido struct {
	ID              tinyNumber  `json:"id"`
	Numero          string      `json:"numero"`
	NumeroEcommerce string      `json:"numero_ecommerce"`
	DataPedido      string      `json:"data_pedido"`
	TotalPedido     tinyNumber  `json:"total_pedido"`
	ValorFrete      tinyNumber  `json:"valor_frete"`
	ValorDesconto   tinyNumber  `json:"valor_desconto"`
	OutrasDespesas  tinyNumber  `json:"outras_despesas"`
	IdNotaFiscal    tinyNumber  `json:"id_nota_fiscal"`
	NumeroNota      string      `json:"numero_nota"`
	Cliente         tinyCliente `json:"cliente"`
}

// ==================== handler request/response types ====================

type TriggerSyncRequest struct {
	Account string `json:"account" binding:"required"`
}

type EmissionPageRequest struct {
	Active bool `json:"active"`
}

type ResolveInvoiceRequest struct {
	Number  string `json:"number" binding:"required"`
	Account string `json:"account"`
}

type ResolveOrderRequest struct {
	EcommerceNumber string `json:"ecommerceNumber" binding:"required"`
	Account         string `json:"account" binding:"required"`
}

type StatusResponse struct {
	LedgerRunning      map[string]bool `json:"ledgerRunning"`
	CatalogRunning     bool            `json:"catalogRunning"`
	EmissionPageActive bool            `json:"emissionPageActive"`
}

// ==================== small parse helpers ====================

func decimalFromNumber(num tinyNumber) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func int64FromNumber(num tinyNumber) int64 {
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Tiny dates are "dd/mm/yyyy".
func parseTinyDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse("02/01/2006", value)
	if err != nil {
		return nil
	}
	return &t
}
