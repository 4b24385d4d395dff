package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron              *cron.Cron
	jobs              *Jobs
	logger            *slog.Logger
	reconcileSchedule string
	pruneSchedule     string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, reconcileSchedule, pruneSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:              c,
		jobs:              jobs,
		logger:            logger,
		reconcileSchedule: reconcileSchedule,
		pruneSchedule:     pruneSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.register("ledger reconciliation", s.reconcileSchedule, s.jobs.ReconcileLedger)
	s.register("outbox prune", s.pruneSchedule, s.jobs.PruneOutbox)
	s.cron.Start()
}

func (s *Scheduler) register(name, schedule string, job func()) {
	if schedule == "" {
		s.logger.Info("job disabled", "job", name)
		return
	}
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", schedule, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
