package tinysync

import (
	"context"
	"errors"
	"os"
	"strings"

	"bitbucket.org/grupoeliane/expedicao_backend/config"
	"bitbucket.org/grupoeliane/expedicao_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// Ledger every 10 minutes, catalog nightly at 03:00. Both overridable.
	defaultLedgerCron  = "0 */10 * * * *"
	defaultCatalogCron = "0 0 3 * * *"
)

// Scheduler drives the recurring syncs. Each tick simply asks the
// coordinator; a refusal (previous run still going, emission page active) is
// logged at debug and the tick is dropped — ticks are cheap, queueing them
// is not.
type Scheduler struct {
	cron   *cron.Cron
	co     *Coordinator
	logger *logrus.Logger
}

func NewScheduler(co *Coordinator) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		co:     co,
		logger: config.GetLogger(),
	}
}

func (s *Scheduler) Start() error {
	ledgerSpec := cronSpec("SYNC_LEDGER_CRON", defaultLedgerCron)
	catalogSpec := cronSpec("SYNC_CATALOG_CRON", defaultCatalogCron)

	if _, err := s.cron.AddFunc(ledgerSpec, s.runLedgers); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(catalogSpec, s.runCatalogs); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"module":      "tinysync",
		"ledgerCron":  ledgerSpec,
		"catalogCron": catalogSpec,
	}).Info("sync scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.WithField("module", "tinysync").Info("sync scheduler stopped")
}

func (s *Scheduler) runLedgers() {
	ctx := utils.SetTriggeredByInContext(context.Background(), "cron")
	for _, account := range config.TinyAccounts() {
		if err := SyncLedger(ctx, s.co, account); err != nil {
			if errors.Is(err, ErrSyncRefused) {
				s.logger.WithFields(logrus.Fields{
					"module":  "tinysync",
					"account": account,
				}).Debug("ledger tick dropped: " + err.Error())
				continue
			}
			config.LogError(s.logger, "tinysync", "runLedgers", "scheduled ledger sync failed", account, err)
		}
	}
}

func (s *Scheduler) runCatalogs() {
	ctx := utils.SetTriggeredByInContext(context.Background(), "cron")
	for _, account := range config.TinyAccounts() {
		if err := SyncCatalog(ctx, s.co, account); err != nil {
			if errors.Is(err, ErrSyncRefused) {
				s.logger.WithFields(logrus.Fields{
					"module":  "tinysync",
					"account": account,
				}).Debug("catalog tick dropped: " + err.Error())
				continue
			}
			config.LogError(s.logger, "tinysync", "runCatalogs", "scheduled catalog sync failed", account, err)
		}
	}
}

func cronSpec(envKey string, fallback string) string {
	if spec := strings.TrimSpace(os.Getenv(envKey)); spec != "" {
		return spec
	}
	return fallback
}
