package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/indexer"
)

// SyncRunner is the slice of the indexer the scheduler drives.
type SyncRunner interface {
	Sync(ctx context.Context, deadline time.Time) (indexer.RunStats, error)
	DrainDeletes(ctx context.Context, deadline time.Time) (deleted, requeued int, err error)
}

// SyncGate decides whether the periodic sync may run.
type SyncGate interface {
	SyncEnabled(ctx context.Context) bool
}

// Scheduler owns the periodic jobs. The minute tick runs the sync
// under a fixed wall-clock budget shared across its phases; the daily
// tick runs reconciliation.
type Scheduler struct {
	runner     SyncRunner
	reconciler *Reconciler
	gate       SyncGate
	budget     time.Duration
	validate   bool
	log        *zap.Logger
}

func NewScheduler(runner SyncRunner, reconciler *Reconciler, gate SyncGate, budget time.Duration, validate bool, log *zap.Logger) *Scheduler {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Scheduler{
		runner:     runner,
		reconciler: reconciler,
		gate:       gate,
		budget:     budget,
		validate:   validate,
		log:        log.Named("cron"),
	}
}

// Run blocks until the context is cancelled, firing the minute sync
// and the daily reconciliation.
func (s *Scheduler) Run(ctx context.Context) {
	minute := time.NewTicker(time.Minute)
	defer minute.Stop()
	daily := time.NewTicker(24 * time.Hour)
	defer daily.Stop()

	s.log.Info("scheduler started",
		zap.Duration("sync_budget", s.budget),
		zap.Bool("daily_validation", s.validate))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-minute.C:
			s.RunSync(ctx)
		case <-daily.C:
			s.RunReconciliation(ctx)
		}
	}
}

// RunSync performs one budgeted sync run.
func (s *Scheduler) RunSync(ctx context.Context) {
	if s.gate != nil && !s.gate.SyncEnabled(ctx) {
		return
	}

	deadline := time.Now().Add(s.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	stats, err := s.runner.Sync(ctx, deadline)
	if err != nil {
		s.log.Error("sync run failed", zap.Error(err))
		return
	}
	if stats.Indexed+stats.Failed+stats.Deleted+stats.Requeued > 0 {
		s.log.Info("sync run finished",
			zap.Int("indexed", stats.Indexed),
			zap.Int("failed", stats.Failed),
			zap.Int("deleted", stats.Deleted),
			zap.Int("requeued", stats.Requeued))
	}
}

// RunReconciliation performs one reconciliation run if validation is
// enabled.
func (s *Scheduler) RunReconciliation(ctx context.Context) {
	if !s.validate || s.reconciler == nil {
		return
	}

	stats, err := s.reconciler.Run(ctx)
	if err != nil {
		s.log.Error("reconciliation failed", zap.Error(err))
		return
	}
	s.log.Info("reconciliation finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("deletes_queued", stats.DeletesQueued),
		zap.Int("checked", stats.Checked),
		zap.Int64("marked_pending", stats.MarkedPending))
}
