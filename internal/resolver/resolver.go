package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reconciler/internal/config"
	loandomain "github.com/smallbiznis/reconciler/internal/loan/domain"
	webhookdomain "github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

// Input describes the transaction being resolved.
type Input struct {
	ProviderTransactionID string
	TransactionType       string
	Amount                decimal.Decimal
	EffectiveAt           time.Time
	// ClientHint narrows installment matching to one client's loans.
	ClientHint *snowflake.ID
}

// Outcome is the resolver's verdict. A nil Resolution with NeedsReview false
// means nothing plausible was found.
type Outcome struct {
	Resolution   *webhookdomain.Resolution
	NeedsReview  bool
	ReviewReason string
}

// InstallmentMatch is the result of matching within a known loan.
type InstallmentMatch struct {
	InstallmentID *snowflake.ID
	Ambiguous     bool
}

type Params struct {
	fx.In

	Log       *zap.Logger
	LoanRepo  loandomain.Repository
	Reconcile *config.ReconcileConfigHolder
}

type Resolver struct {
	log       *zap.Logger
	loanRepo  loandomain.Repository
	reconcile *config.ReconcileConfigHolder
}

func New(p Params) *Resolver {
	return &Resolver{
		log:       p.Log.Named("resolver"),
		loanRepo:  p.LoanRepo,
		reconcile: p.Reconcile,
	}
}

// Resolve maps a provider transaction to a client and loan. Linkage wins
// outright; otherwise recurring payments are matched against scheduled
// installments by amount and due-date proximity. An exact tie is reported for
// review rather than guessed.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, in Input) (Outcome, error) {
	link, err := r.loanRepo.LookupLink(ctx, db, in.ProviderTransactionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup link: %w", err)
	}
	if link != nil {
		return Outcome{
			Resolution: &webhookdomain.Resolution{
				ClientID: link.ClientID,
				LoanID:   link.LoanID,
				Method:   webhookdomain.ResolutionMethodLinkage,
			},
		}, nil
	}

	cfg := r.reconcile.Get()
	if !cfg.IsRecurring(in.TransactionType) {
		return Outcome{}, nil
	}

	filter := candidateWindow(in.EffectiveAt, cfg.MatchWindowDays)
	filter.ClientID = in.ClientHint
	candidates, err := r.loanRepo.ListScheduledInstallments(ctx, db, filter)
	if err != nil {
		return Outcome{}, fmt.Errorf("list scheduled installments: %w", err)
	}

	best, ambiguous := closest(candidates, in.Amount, in.EffectiveAt)
	switch {
	case ambiguous:
		r.log.Warn("ambiguous installment match",
			zap.String("provider_transaction_id", in.ProviderTransactionID),
			zap.Int("candidates", len(candidates)),
		)
		return Outcome{
			NeedsReview:  true,
			ReviewReason: webhookdomain.ReviewReasonAmbiguousInstallment,
		}, nil
	case best == nil:
		return Outcome{}, nil
	}

	installmentID := best.InstallmentID
	return Outcome{
		Resolution: &webhookdomain.Resolution{
			ClientID:      best.ClientID,
			LoanID:        best.LoanID,
			InstallmentID: &installmentID,
			Method:        webhookdomain.ResolutionMethodInstallment,
		},
	}, nil
}

// MatchInstallment picks the scheduled installment of loanID that a payment
// settles, using the same amount and proximity rules as Resolve.
func (r *Resolver) MatchInstallment(ctx context.Context, db *gorm.DB, loanID snowflake.ID, amount decimal.Decimal, effectiveAt time.Time) (InstallmentMatch, error) {
	cfg := r.reconcile.Get()
	filter := candidateWindow(effectiveAt, cfg.MatchWindowDays)
	filter.LoanIDs = []snowflake.ID{loanID}

	candidates, err := r.loanRepo.ListScheduledInstallments(ctx, db, filter)
	if err != nil {
		return InstallmentMatch{}, fmt.Errorf("list scheduled installments: %w", err)
	}

	best, ambiguous := closest(candidates, amount, effectiveAt)
	if ambiguous {
		return InstallmentMatch{Ambiguous: true}, nil
	}
	if best == nil {
		return InstallmentMatch{}, nil
	}
	id := best.InstallmentID
	return InstallmentMatch{InstallmentID: &id}, nil
}

// candidateWindow covers whole calendar days so a due date carrying a time of
// day on the last day of the window is still a candidate.
func candidateWindow(effectiveAt time.Time, windowDays int) loandomain.CandidateFilter {
	anchor := truncateDay(effectiveAt)
	window := time.Duration(windowDays) * day
	return loandomain.CandidateFilter{
		From: anchor.Add(-window),
		To:   anchor.Add(window + day - time.Nanosecond),
	}
}

// closest returns the amount-matching candidate nearest to effectiveAt. The
// second result is true when two or more candidates share the minimum distance.
func closest(candidates []loandomain.InstallmentCandidate, amount decimal.Decimal, effectiveAt time.Time) (*loandomain.InstallmentCandidate, bool) {
	anchor := truncateDay(effectiveAt)

	var best *loandomain.InstallmentCandidate
	bestDistance := time.Duration(-1)
	tied := false

	for i := range candidates {
		c := &candidates[i]
		if !c.Amount.Equal(amount) {
			continue
		}
		distance := absDuration(truncateDay(c.DueDate).Sub(anchor))
		switch {
		case bestDistance < 0 || distance < bestDistance:
			best = c
			bestDistance = distance
			tied = false
		case distance == bestDistance:
			tied = true
		}
	}

	if tied {
		return nil, true
	}
	return best, false
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
