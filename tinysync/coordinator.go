package tinysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ErrSyncRefused is wrapped by every refusal so handlers can map the whole
// family to one response. A refused sync is skipped, never queued.
var ErrSyncRefused = errors.New("sync refused")

// syncLockTTL bounds a crashed process's hold on the cross-process redis
// locks. Both sync passes finish well under it.
const syncLockTTL = 30 * time.Minute

// Coordinator owns all sync run-state behind one mutex: per-account ledger
// flags, the process-wide catalog flag and the emission-page flag. State is
// never persisted — a restart always starts idle.
//
// Catalog sync has priority: starting one signals every account's stop flag
// and waits (condition variable, no polling) until the running ledger syncs
// drain at their next loop boundary. Ledger syncs are refused outright while
// a catalog sync or the emission page is active.
//
// When redis is configured each Begin additionally obtains a redislock, so
// two service instances pointed at the same accounts cannot run the same
// pass concurrently. Without redis the in-process state is the authority.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	ledgerRunning      map[string]bool
	stopRequested      map[string]bool
	catalogRunning     bool
	emissionPageActive bool

	locks  map[string]*redislock.Lock
	logger *logrus.Logger
}

func NewCoordinator() *Coordinator {
	co := &Coordinator{
		ledgerRunning: make(map[string]bool),
		stopRequested: make(map[string]bool),
		locks:         make(map[string]*redislock.Lock),
		logger:        config.GetLogger(),
	}
	co.cond = sync.NewCond(&co.mu)
	return co
}

// SetEmissionPageActive pauses background syncs while the emission page is
// under heavy interactive use. Running passes stop at their next boundary;
// new ledger syncs are refused until the flag clears.
func (co *Coordinator) SetEmissionPageActive(active bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.emissionPageActive = active
	co.publishStatusLocked()
	co.logger.WithFields(logrus.Fields{
		"module": "tinysync",
		"active": active,
	}).Info("emission page flag updated")
}

func (co *Coordinator) Status() StatusResponse {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.statusLocked()
}

func (co *Coordinator) statusLocked() StatusResponse {
	ledger := make(map[string]bool, len(co.ledgerRunning))
	for account, running := range co.ledgerRunning {
		ledger[account] = running
	}
	return StatusResponse{
		LedgerRunning:      ledger,
		CatalogRunning:     co.catalogRunning,
		EmissionPageActive: co.emissionPageActive,
	}
}

// publishStatusLocked mirrors the run-state snapshot into redis so operators
// (and sibling instances) can inspect it without hitting this process. No-op
// without redis. Callers hold co.mu.
func (co *Coordinator) publishStatusLocked() {
	if err := config.SetRedisObject(statusCacheKey, co.statusLocked(), syncLockTTL); err != nil {
		co.logger.WithField("module", "tinysync").Warn("publishing status snapshot: " + err.Error())
	}
}

// BeginLedger claims the ledger-sync slot for one account. Refusals are
// terminal for this trigger; the next cron tick will try again.
func (co *Coordinator) BeginLedger(ctx context.Context, account string) error {
	co.mu.Lock()
	defer co.mu.Unlock()

	switch {
	case co.ledgerRunning[account]:
		return fmt.Errorf("%w: ledger sync already running for account %s", ErrSyncRefused, account)
	case co.catalogRunning:
		return fmt.Errorf("%w: catalog sync is running", ErrSyncRefused)
	case co.stopRequested[account]:
		// A catalog sync has signalled stop and is waiting for the running
		// ledgers to drain; starting a new one here would starve it.
		return fmt.Errorf("%w: catalog sync is waiting to start", ErrSyncRefused)
	case co.emissionPageActive:
		return fmt.Errorf("%w: emission page is active", ErrSyncRefused)
	}

	if err := co.obtainLock(ctx, ledgerLockKey(account)); err != nil {
		return err
	}
	co.ledgerRunning[account] = true
	co.publishStatusLocked()
	return nil
}

func (co *Coordinator) EndLedger(account string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.ledgerRunning[account] = false
	co.releaseLock(ledgerLockKey(account))
	co.publishStatusLocked()
	co.cond.Broadcast()
}

// BeginCatalog claims the process-wide catalog slot. It signals stop to every
// account's ledger sync and blocks until they have drained; it never skips
// silently (only a concurrent catalog sync refuses it).
func (co *Coordinator) BeginCatalog(ctx context.Context, account string) error {
	co.mu.Lock()
	defer co.mu.Unlock()

	if co.catalogRunning {
		return fmt.Errorf("%w: catalog sync already running", ErrSyncRefused)
	}

	for _, acc := range config.TinyAccounts() {
		co.stopRequested[acc] = true
	}
	for co.anyLedgerRunningLocked() {
		co.cond.Wait()
		// Several claimants can park here waiting for the same drain; the
		// first one awake takes the slot, the rest must see that and refuse
		// instead of claiming it again. The winner owns the stop flags now
		// and clears them at its EndCatalog.
		if co.catalogRunning {
			return fmt.Errorf("%w: catalog sync already running", ErrSyncRefused)
		}
	}
	if err := ctx.Err(); err != nil {
		co.clearStopRequestedLocked()
		return err
	}

	if err := co.obtainLock(ctx, catalogLockKey); err != nil {
		co.clearStopRequestedLocked()
		return err
	}
	co.catalogRunning = true
	co.publishStatusLocked()
	co.logger.WithFields(logrus.Fields{
		"module":  "tinysync",
		"account": account,
	}).Info("catalog sync claimed")
	return nil
}

func (co *Coordinator) EndCatalog() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.catalogRunning = false
	co.clearStopRequestedLocked()
	co.releaseLock(catalogLockKey)
	co.publishStatusLocked()
	co.cond.Broadcast()
}

func (co *Coordinator) clearStopRequestedLocked() {
	for account := range co.stopRequested {
		co.stopRequested[account] = false
	}
}

// ShouldStopLedger is polled by the ledger sync at page and item boundaries.
func (co *Coordinator) ShouldStopLedger(account string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.stopRequested[account] || co.emissionPageActive
}

// ShouldStopCatalog is polled by the catalog sync at page and item boundaries.
func (co *Coordinator) ShouldStopCatalog() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.emissionPageActive
}

func (co *Coordinator) anyLedgerRunningLocked() bool {
	for _, running := range co.ledgerRunning {
		if running {
			return true
		}
	}
	return false
}

// obtainLock/releaseLock add cross-process exclusion when redis is around.
// Callers hold co.mu.
func (co *Coordinator) obtainLock(ctx context.Context, key string) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, key, syncLockTTL, nil)
	if err == redislock.ErrNotObtained {
		return fmt.Errorf("%w: %s held by another instance", ErrSyncRefused, key)
	} else if err != nil {
		config.LogError(co.logger, "tinysync", "obtainLock", "obtaining redis lock", key, err)
		return err
	}
	co.locks[key] = lock
	return nil
}

func (co *Coordinator) releaseLock(key string) {
	lock := co.locks[key]
	if lock == nil {
		return
	}
	delete(co.locks, key)
	if err := lock.Release(config.GetRedisContext()); err != nil && err != redislock.ErrLockNotHeld {
		config.LogError(co.logger, "tinysync", "releaseLock", "releasing redis lock", key, err)
	}
}

const (
	catalogLockKey = "tinysync:catalog"
	statusCacheKey = "tinysync:status"
)

func ledgerLockKey(account string) string {
	return "tinysync:ledger:" + account
}
