package tinysync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/models"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
	"github.com/sirupsen/logrus"
)

// ErrNotFound means the lookup target exists in no configured account.
var ErrNotFound = errors.New("not found in any tiny account")

// resolverScanAttempts caps remote retries per account during an on-demand
// lookup. An operator is waiting at the emission screen; the full backoff
// budget would block them for minutes on an account that simply does not
// have the invoice.
const resolverScanAttempts = 3

type resolveRequest struct {
	invoiceNumber   string
	ecommerceNumber string
	account         string

	// done carries the single completion result to the waiting caller.
	done chan error
}

// Resolver serves on-demand lookups for invoices (and orders) that the
// background syncs have not cached yet. Requests are queued FIFO and worked
// by at most one consumer goroutine, so burst lookups from the emission page
// serialize into one polite stream of Tiny calls instead of a stampede.
type Resolver struct {
	mu         sync.Mutex
	queue      []*resolveRequest
	processing bool

	logger *logrus.Logger
}

func NewResolver() *Resolver {
	return &Resolver{logger: config.GetLogger()}
}

// ResolveInvoiceByNumber fetches and caches one invoice by its NFe number.
// With an account it searches only there; without one it scans every
// configured account in order and takes the first hit. Blocks until the
// queued request completes or ctx is done (the work itself keeps running so
// the cache still fills for the next attempt).
func (r *Resolver) ResolveInvoiceByNumber(ctx context.Context, number string, account string) error {
	return r.enqueue(ctx, &resolveRequest{
		invoiceNumber: strings.TrimSpace(number),
		account:       strings.ToLower(strings.TrimSpace(account)),
	})
}

// ResolveOrderByEcommerceNumber fetches and caches one sales order by its
// marketplace number within a specific account.
func (r *Resolver) ResolveOrderByEcommerceNumber(ctx context.Context, ecommerceNumber string, account string) error {
	return r.enqueue(ctx, &resolveRequest{
		ecommerceNumber: strings.TrimSpace(ecommerceNumber),
		account:         strings.ToLower(strings.TrimSpace(account)),
	})
}

func (r *Resolver) enqueue(ctx context.Context, req *resolveRequest) error {
	req.done = make(chan error, 1)

	r.mu.Lock()
	r.queue = append(r.queue, req)
	if !r.processing {
		r.processing = true
		go r.drain()
	}
	r.mu.Unlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain works the queue until empty. Requests run under a background context
// so an impatient caller hanging up does not waste the Tiny calls already
// spent: the result still lands in the cache.
func (r *Resolver) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.processing = false
			r.mu.Unlock()
			return
		}
		req := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		req.done <- r.process(req)
	}
}

func (r *Resolver) process(req *resolveRequest) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("resolver panic: %v", rec)
			config.LogError(r.logger, "tinysync", "process", "panic resolving request", map[string]string{
				"invoiceNumber":   req.invoiceNumber,
				"ecommerceNumber": req.ecommerceNumber,
				"account":         req.account,
			}, err)
		}
	}()

	ctx := utils.SetTriggeredByInContext(context.Background(), "resolver")

	if req.ecommerceNumber != "" {
		return r.resolveOrder(ctx, req)
	}
	return r.resolveInvoice(ctx, req)
}

func (r *Resolver) resolveInvoice(ctx context.Context, req *resolveRequest) error {
	accounts := config.TinyAccounts()
	if req.account != "" {
		if !config.IsKnownAccount(req.account) {
			return config.ErrorUnknownAccount
		}
		accounts = []string{req.account}
	}

	for _, account := range accounts {
		client, err := newTinyClient(account)
		if err != nil {
			return err
		}
		found, err := r.resolveInvoiceInAccount(ctx, client, req.invoiceNumber)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		r.logger.WithFields(logrus.Fields{
			"module":  "tinysync",
			"account": account,
			"number":  req.invoiceNumber,
		}).Info("invoice not in account; trying next")
	}
	return fmt.Errorf("invoice %s: %w", req.invoiceNumber, ErrNotFound)
}

// resolveInvoiceInAccount returns (false, nil) when this account simply does
// not have the invoice — both a clean "no records" answer and a persistently
// failing account move the scan along rather than aborting it.
func (r *Resolver) resolveInvoiceInAccount(ctx context.Context, client *tinyClient, number string) (bool, error) {
	client.throttle()
	search, err := client.callWithRetry(ctx, "notas.fiscais.pesquisa.php", url.Values{
		"numero": {number},
	}, resolverScanAttempts)
	if err != nil {
		return false, skippableScanError(r.logger, client.account, number, err)
	}
	if len(search.NotasFiscais) == 0 {
		return false, nil
	}

	tinyId := int64FromNumber(search.NotasFiscais[0].NotaFiscal.ID)
	nota, err := client.fetchInvoiceDetail(ctx, tinyId, resolverScanAttempts)
	if err != nil {
		return false, skippableScanError(r.logger, client.account, number, err)
	}
	if err := syncInvoiceFromDetail(ctx, client, nota); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) resolveOrder(ctx context.Context, req *resolveRequest) error {
	if !config.IsKnownAccount(req.account) {
		return config.ErrorUnknownAccount
	}
	client, err := newTinyClient(req.account)
	if err != nil {
		return err
	}

	// Cached already? Then the emission page raced a background sync.
	order, err := models.GetSalesOrderByEcommerceNumber(ctx, req.account, req.ecommerceNumber)
	if err != nil {
		return err
	}
	if order == nil {
		order, err = syncOrderByEcommerceNumber(ctx, client, req.ecommerceNumber)
		if err != nil {
			if errors.Is(err, errNoRecords) {
				return fmt.Errorf("order %s: %w", req.ecommerceNumber, ErrNotFound)
			}
			return err
		}
	}

	// Chase the linked invoice so label printing finds both rows.
	if order.InvoiceTinyId == 0 {
		return nil
	}
	exists, err := models.InvoiceExistsByTinyId(ctx, req.account, order.InvoiceTinyId)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	nota, err := client.fetchInvoiceDetail(ctx, order.InvoiceTinyId, resolverScanAttempts)
	if err != nil {
		if errors.Is(err, errNoRecords) {
			return nil
		}
		return err
	}
	return syncInvoiceFromDetail(ctx, client, nota)
}

// skippableScanError converts per-account remote failures into "not here":
// "no records" is the expected miss and a persistent failure on one account
// must not hide the invoice sitting in the next one.
func skippableScanError(logger *logrus.Logger, account string, number string, err error) error {
	var persistent *PersistentFailure
	if errors.Is(err, errNoRecords) {
		return nil
	}
	if errors.As(err, &persistent) {
		config.LogError(logger, "tinysync", "resolveInvoice", "account unreachable during scan; skipping", map[string]string{
			"account": account,
			"number":  number,
		}, err)
		return nil
	}
	return err
}
