package tinysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/models"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
	"github.com/gin-gonic/gin"
)

// StatusHandler reports the coordinator's live run-state.
func StatusHandler(co *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, co.Status())
	}
}

// EmissionPageHandler flips the emission-page flag. The frontend calls it on
// page enter/leave so background syncs yield while operators are working.
func EmissionPageHandler(co *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmissionPageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		co.SetEmissionPageActive(req.Active)
		c.JSON(http.StatusOK, gin.H{"emissionPageActive": req.Active})
	}
}

// TriggerLedgerHandler starts a ledger sync for one account in the
// background. Refusals (already running, catalog active, emission page) come
// back synchronously as 409.
func TriggerLedgerHandler(co *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := bindAccount(c)
		if !ok {
			return
		}

		client, err := newTinyClient(account)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetTriggeredByInContext(context.Background(), "api")
		if err := co.BeginLedger(ctx, account); err != nil {
			refuse(c, err)
			return
		}
		go func() {
			defer co.EndLedger(account)
			if err := runLedgerPass(ctx, co, client); err != nil {
				config.LogError(config.GetLogger(), "tinysync", "TriggerLedgerHandler", "ledger sync failed", account, err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"started": "ledger", "account": account})
	}
}

// TriggerCatalogHandler starts a catalog sync in the background. The claim
// happens inside the goroutine because BeginCatalog may block waiting for
// ledger syncs to drain; the caller gets 202 for "queued behind them" too.
func TriggerCatalogHandler(co *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := bindAccount(c)
		if !ok {
			return
		}

		// The one synchronously-detectable refusal; waiting for ledger drain
		// still happens inside the goroutine.
		if co.Status().CatalogRunning {
			refuse(c, fmt.Errorf("%w: catalog sync already running", ErrSyncRefused))
			return
		}

		ctx := utils.SetTriggeredByInContext(context.Background(), "api")
		go func() {
			if err := SyncCatalog(ctx, co, account); err != nil {
				config.LogError(config.GetLogger(), "tinysync", "TriggerCatalogHandler", "catalog sync failed", account, err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"started": "catalog", "account": account})
	}
}

// ResolveInvoiceHandler blocks until the invoice is cached (or the scan
// exhausts every account) and then returns the cached row.
func ResolveInvoiceHandler(res *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveInvoiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := res.ResolveInvoiceByNumber(c.Request.Context(), req.Number, req.Account); err != nil {
			resolveError(c, err)
			return
		}

		account := strings.ToLower(strings.TrimSpace(req.Account))
		invoice, err := lookupResolvedInvoice(c.Request.Context(), account, strings.TrimSpace(req.Number))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if invoice == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

// ResolveOrderHandler blocks until the order is cached and returns it.
func ResolveOrderHandler(res *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := res.ResolveOrderByEcommerceNumber(c.Request.Context(), req.EcommerceNumber, req.Account); err != nil {
			resolveError(c, err)
			return
		}

		account := strings.ToLower(strings.TrimSpace(req.Account))
		order, err := models.GetSalesOrderByEcommerceNumber(c.Request.Context(), account, strings.TrimSpace(req.EcommerceNumber))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// SyncErrorsHandler lists recent item-level sync errors, optionally filtered
// by account (?account=) and limited (?limit=).
func SyncErrorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := models.ListSyncErrors(c.Request.Context(), c.Query("account"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func bindAccount(c *gin.Context) (string, bool) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	account := strings.ToLower(strings.TrimSpace(req.Account))
	if !config.IsKnownAccount(account) {
		c.JSON(http.StatusBadRequest, gin.H{"error": config.ErrorUnknownAccount.Error()})
		return "", false
	}
	// Stamp the account onto the request context so the request log line
	// carries it.
	c.Request = c.Request.WithContext(utils.SetAccountInContext(c.Request.Context(), account))
	return account, true
}

func refuse(c *gin.Context, err error) {
	if errors.Is(err, ErrSyncRefused) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func resolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, config.ErrorUnknownAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// lookupResolvedInvoice re-reads the cache after a successful resolve. When
// the request named no account the scan may have landed it in any of them.
func lookupResolvedInvoice(ctx context.Context, account string, number string) (*models.Invoice, error) {
	accounts := config.TinyAccounts()
	if account != "" {
		accounts = []string{account}
	}
	for _, acc := range accounts {
		invoice, err := models.GetInvoiceByNumber(ctx, acc, number)
		if err != nil {
			return nil, err
		}
		if invoice != nil {
			return invoice, nil
		}
	}
	return nil, nil
}
