/**
 * @description
 * Scheduled ledger maintenance: balance reconciliation and outbox pruning.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const defaultJobTimeout = 5 * time.Minute

// Jobs holds the scheduled tasks run by the Scheduler.
type Jobs struct {
	repo            store.Repository
	outbox          store.OutboxRepository
	eventsExchange  string
	outboxRetention time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewJobs creates the job set.
func NewJobs(repo store.Repository, outbox store.OutboxRepository, eventsExchange string, outboxRetention time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:            repo,
		outbox:          outbox,
		eventsExchange:  eventsExchange,
		outboxRetention: outboxRetention,
		logger:          logger,
		now:             time.Now,
	}
}

// ReconcileLedger checks balance == opening balance + sum(entries) for every account.
func (j *Jobs) ReconcileLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	drifted, err := j.reconcile(ctx)
	if err != nil {
		j.logger.Error("ledger reconciliation failed", "error", err)
		return
	}
	j.logger.Info("ledger reconciliation finished", "drifted_accounts", drifted)
}

func (j *Jobs) reconcile(ctx context.Context) (int, error) {
	totals, err := j.repo.ListLedgerTotals(ctx)
	if err != nil {
		return 0, err
	}

	var drifts []domain.ReconciliationDriftEvent
	for _, t := range totals {
		drift := t.Drift()
		if drift.IsZero() {
			continue
		}
		j.logger.Error("ledger drift detected",
			"account_number", t.AccountNumber,
			"balance", t.Balance.String(),
			"opening_balance", t.OpeningBalance.String(),
			"entries_total", t.EntriesTotal.String(),
			"drift", drift.String(),
		)
		drifts = append(drifts, domain.ReconciliationDriftEvent{
			EventID:        uuid.New(),
			AccountNumber:  t.AccountNumber,
			Balance:        t.Balance,
			OpeningBalance: t.OpeningBalance,
			EntriesTotal:   t.EntriesTotal,
			Drift:          drift,
			DetectedAt:     j.now(),
		})
	}
	if len(drifts) == 0 {
		return 0, nil
	}

	err = j.repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, event := range drifts {
			if err := tx.EnqueueEvent(ctx, j.eventsExchange, domain.RoutingKeyReconciliationDrift, event); err != nil {
				return err
			}
		}
		return nil
	})
	return len(drifts), err
}

// PruneOutbox removes published outbox rows older than the retention window.
func (j *Jobs) PruneOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	pruned, err := j.outbox.PruneOutbox(ctx, j.now().Add(-j.outboxRetention))
	if err != nil {
		j.logger.Error("outbox prune failed", "error", err)
		return
	}
	j.logger.Info("outbox pruned", "rows", pruned)
}
