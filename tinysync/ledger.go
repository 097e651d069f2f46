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

const (
	// ledgerPageBudget bounds one pass at the newest issued invoices. The pass
	// runs often; anything older than five pages was caught by an earlier run
	// or will be pulled on demand by the resolver.
	ledgerPageBudget = 5

	// Tiny situacao 3 = cancelada.
	invoiceSituacaoCancelada = "3"
)

// SyncLedger refreshes the newest issued invoices of one account: up to
// ledgerPageBudget pages newest-first, fetching detail only for invoices
// whose access key is not cached yet. After each page it reconciles
// cancellations, removing cancelled invoices from the cache and flagging
// their shipping-report rows.
//
// The pass yields at page and item boundaries when the coordinator signals
// stop (catalog sync starting, or emission page activated).
func SyncLedger(ctx context.Context, co *Coordinator, account string) error {
	account = strings.ToLower(strings.TrimSpace(account))

	client, err := newTinyClient(account)
	if err != nil {
		return err
	}
	if err := co.BeginLedger(ctx, account); err != nil {
		return err
	}
	defer co.EndLedger(account)

	return runLedgerPass(ctx, co, client)
}

// runLedgerPass is the pass body; the caller holds the ledger slot.
func runLedgerPass(ctx context.Context, co *Coordinator, client *tinyClient) error {
	logger := client.logger
	account := client.account

	logger.WithFields(logrus.Fields{
		"module":  "tinysync",
		"account": account,
	}).Info("ledger sync started")

	var synced, cacheHits, skipped int
	for page := 1; page <= ledgerPageBudget; page++ {
		if co.ShouldStopLedger(account) {
			logger.WithFields(logrus.Fields{
				"module":  "tinysync",
				"account": account,
				"page":    page,
			}).Info("ledger sync stopping early on coordinator signal")
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		client.throttle()
		ret, err := client.callWithRetry(ctx, "notas.fiscais.pesquisa.php", url.Values{
			"pagina": {strconv.Itoa(page)},
			"sort":   {"DESC"},
		}, defaultMaxAttempts)
		if err != nil && !errors.Is(err, errNoRecords) {
			config.LogError(logger, "tinysync", "SyncLedger", "invoice page fetch failed; aborting pass", map[string]any{
				"account": account,
				"page":    page,
			}, err)
			return err
		}

		// An empty active page still gets its cancellation check below: when
		// every invoice in the window was cancelled, the active listing is
		// empty and the cancelled listing is exactly what matters.
		var summaries []tinyNotaWrapper
		if err == nil {
			summaries = ret.NotasFiscais
		}

		for _, wrapper := range summaries {
			if co.ShouldStopLedger(account) {
				break
			}
			summary := wrapper.NotaFiscal

			// The unfiltered listing includes cancelled invoices. Those belong
			// to reconcileCancellations below; caching them here would be
			// undone right after, detail fetch and all, on every pass.
			if summary.Situacao.String() == invoiceSituacaoCancelada {
				continue
			}

			exists, err := models.InvoiceExistsByAccessKey(ctx, account, strings.TrimSpace(summary.ChaveAcesso))
			if err != nil {
				return err
			}
			if exists {
				cacheHits++
				continue
			}

			tinyId := int64FromNumber(summary.ID)
			if err := syncInvoice(ctx, client, tinyId); err != nil {
				if cErr := ctx.Err(); cErr != nil {
					return cErr
				}
				skipped++
				config.LogError(logger, "tinysync", "SyncLedger", "invoice sync failed; skipping", map[string]any{
					"account": account,
					"tinyId":  tinyId,
					"number":  summary.Numero,
				}, err)
				_ = models.CreateSyncError(ctx, account, "invoice",
					strconv.FormatInt(tinyId, 10), syncErrorCode(err), err.Error(), true)
				continue
			}
			synced++
		}

		if rErr := reconcileCancellations(ctx, client, page); rErr != nil {
			// Cancellation reconciliation is best-effort per page; the next
			// pass sees the same window again.
			config.LogError(logger, "tinysync", "SyncLedger", "cancellation reconciliation failed", map[string]any{
				"account": account,
				"page":    page,
			}, rErr)
		}

		if len(summaries) == 0 || page >= lastPage(ret) {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"module":    "tinysync",
		"account":   account,
		"synced":    synced,
		"cacheHits": cacheHits,
		"skipped":   skipped,
	}).Info("ledger sync finished")
	return nil
}

func syncInvoice(ctx context.Context, client *tinyClient, tinyId int64) error {
	nota, err := client.fetchInvoiceDetail(ctx, tinyId, defaultMaxAttempts)
	if err != nil {
		return err
	}
	return syncInvoiceFromDetail(ctx, client, nota)
}

// reconcileCancellations queries the same page window for cancelled invoices
// and propagates each into the cache: the invoice row is deleted and any
// shipping-report rows carrying its access key are flagged so the expedition
// screens stop offering it.
func reconcileCancellations(ctx context.Context, client *tinyClient, page int) error {
	client.throttle()
	ret, err := client.callWithRetry(ctx, "notas.fiscais.pesquisa.php", url.Values{
		"pagina":   {strconv.Itoa(page)},
		"sort":     {"DESC"},
		"situacao": {invoiceSituacaoCancelada},
	}, defaultMaxAttempts)
	if err != nil {
		if errors.Is(err, errNoRecords) {
			return nil
		}
		return err
	}

	for _, wrapper := range ret.NotasFiscais {
		accessKey := strings.TrimSpace(wrapper.NotaFiscal.ChaveAcesso)
		if accessKey == "" {
			continue
		}

		deleted, err := models.DeleteInvoiceByAccessKey(ctx, client.account, accessKey)
		if err != nil {
			return err
		}
		flagged, err := models.MarkShippingReportsCancelled(ctx, client.account, accessKey)
		if err != nil {
			return err
		}
		if deleted || flagged > 0 {
			client.logger.WithFields(logrus.Fields{
				"module":    "tinysync",
				"account":   client.account,
				"number":    wrapper.NotaFiscal.Numero,
				"accessKey": accessKey,
				"deleted":   deleted,
				"flagged":   flagged,
			}).Info("cancelled invoice propagated")
		}
	}
	return nil
}
