package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/reconciler/internal/audit/domain"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/lock"
	obscontext "github.com/smallbiznis/reconciler/internal/observability/context"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/internal/resolver"
	"github.com/smallbiznis/reconciler/internal/statemachine"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepLockKey = "reconciler:orphan_sweep"

type SweeperParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Reconcile *config.ReconcileConfigHolder
	Repo      domain.Repository
	Resolver  *resolver.Resolver
	Machine   *statemachine.Machine
	Audit     auditdomain.Service `optional:"true"`
	Locker    *lock.Locker        `optional:"true"`
}

// Sweeper periodically re-runs resolution for orphaned transactions, so a
// linkage row or schedule written after the notification still reconciles.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	webhookCfg config.WebhookConfig
	reconcile  *config.ReconcileConfigHolder
	repo       domain.Repository
	resolver   *resolver.Resolver
	machine    *statemachine.Machine
	audit      auditdomain.Service
	locker     *lock.Locker
	metrics    *obsmetrics.SweepMetrics
}

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Examined    int
	Resolved    int
	NeedsReview int
	Failed      int
}

func NewSweeper(p SweeperParams) *Sweeper {
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.sweeper"),
		clock:      p.Clock,
		webhookCfg: p.Config.Webhook,
		reconcile:  p.Reconcile,
		repo:       p.Repo,
		resolver:   p.Resolver,
		machine:    p.Machine,
		audit:      p.Audit,
		locker:     p.Locker,
		metrics:    obsmetrics.Sweep(),
	}
}

// RunOnce sweeps one pass over recent orphans. When a locker is configured
// only the lease holder sweeps; other instances skip.
func (s *Sweeper) RunOnce(parent context.Context) (SweepStats, error) {
	cfg := s.reconcile.Get().Sweep
	started := time.Now()

	ctx, cancel := context.WithTimeout(parent, cfg.LockTTL)
	defer cancel()

	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, cfg.LockTTL)
		if err != nil {
			s.metrics.IncError(err)
			return SweepStats{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.metrics.IncSkipped(obsmetrics.SweepSkipLockHeld)
			s.log.Debug("sweep skipped, lock held elsewhere")
			return SweepStats{}, nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), sweepLockKey, token); err != nil {
				s.log.Warn("release sweep lock", zap.Error(err))
			}
		}()
	}

	s.metrics.IncRun()
	stats, err := s.sweep(ctx, cfg, s.clock.Now())
	s.metrics.ObserveDuration(time.Since(started))

	s.log.Info("orphan sweep finished",
		zap.Int("examined", stats.Examined),
		zap.Int("resolved", stats.Resolved),
		zap.Int("needs_review", stats.NeedsReview),
		zap.Int("failed", stats.Failed),
	)
	if err == nil {
		return stats, nil
	}

	s.metrics.IncError(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("orphan sweep timed out", zap.Duration("timeout", cfg.LockTTL), zap.Error(err))
		return stats, nil
	}
	return stats, err
}

func (s *Sweeper) sweep(ctx context.Context, cfg config.SweepConfig, now time.Time) (SweepStats, error) {
	var stats SweepStats
	var jobErr error

	notFlagged := false
	createdAfter := now.Add(-cfg.Lookback)
	filter := domain.OrphanFilter{
		NeedsReview:  &notFlagged,
		CreatedAfter: &createdAfter,
		Limit:        cfg.BatchSize,
	}

	for {
		orphans, err := s.repo.ListOrphans(ctx, s.db, filter)
		if err != nil {
			return stats, errors.Join(jobErr, err)
		}
		if len(orphans) == 0 {
			return stats, jobErr
		}

		for _, orphan := range orphans {
			if err := ctx.Err(); err != nil {
				return stats, errors.Join(jobErr, err)
			}
			stats.Examined++

			outcome, err := s.sweepOne(ctx, orphan)
			if err != nil {
				stats.Failed++
				s.metrics.IncProcessed(obsmetrics.SweepOutcomeFailed)
				s.log.Warn("orphan re-resolution failed",
					zap.String("provider_transaction_id", orphan.ProviderTransactionID),
					zap.Error(err),
				)
				jobErr = errors.Join(jobErr, err)
				continue
			}
			s.metrics.IncProcessed(outcome)
			switch outcome {
			case obsmetrics.SweepOutcomeResolved:
				stats.Resolved++
			case obsmetrics.SweepOutcomeNeedsReview:
				stats.NeedsReview++
			}
		}

		lastID := orphans[len(orphans)-1].ID
		filter.AfterID = &lastID
		if len(orphans) < cfg.BatchSize {
			return stats, jobErr
		}
	}
}

// sweepOne re-resolves a single orphan in its own transaction.
func (s *Sweeper) sweepOne(ctx context.Context, orphan *domain.Transaction) (string, error) {
	ctx = obscontext.WithProviderTransactionID(ctx, orphan.ProviderTransactionID)
	if !s.webhookCfg.IsProductionEnvironment(orphan.Environment) {
		return obsmetrics.SweepOutcomeUnresolved, nil
	}

	outcome := obsmetrics.SweepOutcomeUnresolved
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		current, err := s.repo.FindTransaction(ctx, tx, orphan.ProviderTransactionID)
		if err != nil {
			return err
		}
		if current == nil || current.Resolved() || current.NeedsReview {
			return nil
		}

		res, err := s.resolver.Resolve(ctx, tx, resolver.Input{
			ProviderTransactionID: current.ProviderTransactionID,
			TransactionType:       current.TransactionType,
			Amount:                current.Amount,
			EffectiveAt:           current.OccurredAt,
		})
		if err != nil {
			return err
		}

		if res.NeedsReview {
			outcome = obsmetrics.SweepOutcomeNeedsReview
			return s.repo.MarkNeedsReview(ctx, tx, current.ID, res.ReviewReason, now)
		}
		if res.Resolution == nil {
			return nil
		}

		ok, err := s.repo.SetResolution(ctx, tx, current.ID, res.Resolution.ClientID, res.Resolution.LoanID, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		clientID := res.Resolution.ClientID
		loanID := res.Resolution.LoanID
		current.ClientID = &clientID
		current.LoanID = &loanID

		effect, err := s.machine.Apply(ctx, tx, statemachine.Input{
			Transaction:   current,
			InstallmentID: res.Resolution.InstallmentID,
		})
		if err != nil {
			return err
		}
		if effect.NeedsReview {
			if err := s.repo.MarkNeedsReview(ctx, tx, current.ID, effect.ReviewReason, now); err != nil {
				return err
			}
		}
		if s.audit != nil {
			if err := s.audit.Record(ctx, tx, auditdomain.Entry{
				Action:     auditdomain.ActionTransactionResolvedBySweep,
				TargetType: auditdomain.TargetTypePaymentTransaction,
				TargetID:   current.ProviderTransactionID,
				Metadata: map[string]any{
					"client_id": clientID.String(),
					"loan_id":   loanID.String(),
					"method":    res.Resolution.Method,
					"result":    string(effect.Result),
				},
			}); err != nil {
				return err
			}
		}
		outcome = obsmetrics.SweepOutcomeResolved
		s.log.Info("orphan resolved",
			zap.String("provider_transaction_id", current.ProviderTransactionID),
			zap.String("loan_id", loanID.String()),
			zap.String("method", res.Resolution.Method),
			zap.String("result", string(effect.Result)),
		)
		return nil
	})
	if err != nil {
		return obsmetrics.SweepOutcomeFailed, err
	}
	return outcome, nil
}

// RunForever sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) RunForever(ctx context.Context) {
	interval := s.reconcile.Get().Sweep.Interval
	if interval <= 0 {
		interval = config.DefaultReconcileConfig().Sweep.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.reconcile.Get().Sweep.Enabled {
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Warn("orphan sweep failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
