package statemachine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/reconciler/internal/ledger/domain"
	loandomain "github.com/smallbiznis/reconciler/internal/loan/domain"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/internal/resolver"
	webhookdomain "github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Input is the resolved transaction the machine acts on.
type Input struct {
	Transaction *webhookdomain.Transaction
	// InstallmentID is the installment the resolver already matched, if any.
	InstallmentID *snowflake.ID
}

// Effect reports what Apply did.
type Effect struct {
	Result          webhookdomain.ProcessingResult
	LedgerEventID   snowflake.ID
	InstallmentID   *snowflake.ID
	InstallmentPaid bool
	NeedsReview     bool
	ReviewReason    string
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	LoanRepo   loandomain.Repository
	Resolver   *resolver.Resolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Machine struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	loanRepo   loandomain.Repository
	resolver   *resolver.Resolver
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Machine {
	return &Machine{
		log:        p.Log.Named("statemachine"),
		ledger:     p.Ledger,
		loanRepo:   p.LoanRepo,
		resolver:   p.Resolver,
		obsMetrics: p.ObsMetrics,
	}
}

// Apply performs the financial side effects for the transaction's current
// status. It runs on db so the caller controls the transaction boundary, and
// is safe to repeat: effects happen at most once per provider transaction id.
func (m *Machine) Apply(ctx context.Context, db *gorm.DB, in Input) (Effect, error) {
	tx := in.Transaction
	if tx == nil {
		return Effect{}, fmt.Errorf("%w: missing transaction", webhookdomain.ErrUnreachableTransition)
	}

	switch tx.Status {
	case webhookdomain.StatusPending, webhookdomain.StatusInProgress:
		return Effect{Result: webhookdomain.ResultStatusOnly}, nil
	case webhookdomain.StatusCancelled:
		// No installment or ledger effect is defined for cancellations.
		return Effect{Result: webhookdomain.ResultStatusOnly}, nil
	case webhookdomain.StatusSuccessful:
		return m.applySuccessful(ctx, db, tx, in.InstallmentID)
	case webhookdomain.StatusFailed:
		return m.applyFailed(ctx, db, tx)
	default:
		return Effect{}, fmt.Errorf("%w: %q", webhookdomain.ErrUnreachableTransition, tx.Status)
	}
}

func (m *Machine) applySuccessful(ctx context.Context, db *gorm.DB, tx *webhookdomain.Transaction, matched *snowflake.ID) (Effect, error) {
	if tx.LoanID == nil {
		return Effect{Result: webhookdomain.ResultUnresolved}, nil
	}

	done, err := m.ledger.Exists(ctx, db, tx.ProviderTransactionID)
	if err != nil {
		return Effect{}, fmt.Errorf("check ledger event: %w", err)
	}
	if done {
		return Effect{Result: webhookdomain.ResultDuplicate}, nil
	}

	effect := Effect{Result: webhookdomain.ResultApplied}

	installmentID := matched
	if installmentID == nil {
		match, err := m.resolver.MatchInstallment(ctx, db, *tx.LoanID, tx.Amount, tx.OccurredAt)
		if err != nil {
			return Effect{}, err
		}
		if match.Ambiguous {
			effect.NeedsReview = true
			effect.ReviewReason = webhookdomain.ReviewReasonAmbiguousSettlement
		}
		installmentID = match.InstallmentID
	}

	payload := map[string]any{
		"status":           string(tx.Status),
		"transaction_type": tx.TransactionType,
	}
	if installmentID != nil {
		payload["installment_id"] = installmentID.String()
	}

	// The ledger row is the idempotency guard: only the delivery that inserts
	// it may transition an installment.
	eventID, inserted, err := m.ledger.Append(ctx, db, ledgerdomain.AppendRequest{
		LoanID:                *tx.LoanID,
		ProviderTransactionID: tx.ProviderTransactionID,
		EventType:             ledgerdomain.EventTypePaymentReceived,
		Amount:                tx.Amount,
		EffectiveDate:         tx.OccurredAt,
		Environment:           tx.Environment,
		Payload:               payload,
	})
	if err != nil {
		return Effect{}, fmt.Errorf("append ledger event: %w", err)
	}
	if !inserted {
		return Effect{Result: webhookdomain.ResultDuplicate}, nil
	}
	effect.LedgerEventID = eventID

	if installmentID != nil {
		paid, err := m.loanRepo.MarkInstallmentPaid(ctx, db, *installmentID, tx.OccurredAt)
		if err != nil {
			return Effect{}, fmt.Errorf("mark installment paid: %w", err)
		}
		effect.InstallmentID = installmentID
		effect.InstallmentPaid = paid
		if paid && m.obsMetrics != nil {
			m.obsMetrics.RecordInstallmentPaid(ctx)
		}
	}

	m.log.Info("payment applied",
		zap.String("provider_transaction_id", tx.ProviderTransactionID),
		zap.String("loan_id", tx.LoanID.String()),
		zap.Bool("installment_paid", effect.InstallmentPaid),
	)
	return effect, nil
}

func (m *Machine) applyFailed(ctx context.Context, db *gorm.DB, tx *webhookdomain.Transaction) (Effect, error) {
	if tx.LoanID == nil {
		return Effect{Result: webhookdomain.ResultUnresolved}, nil
	}

	done, err := m.ledger.Exists(ctx, db, tx.ProviderTransactionID)
	if err != nil {
		return Effect{}, fmt.Errorf("check ledger event: %w", err)
	}
	if done {
		return Effect{Result: webhookdomain.ResultDuplicate}, nil
	}

	payload := map[string]any{
		"status":           string(tx.Status),
		"transaction_type": tx.TransactionType,
	}
	if tx.FailureReason != nil && strings.TrimSpace(*tx.FailureReason) != "" {
		payload["failure_reason"] = strings.TrimSpace(*tx.FailureReason)
	}

	eventID, inserted, err := m.ledger.Append(ctx, db, ledgerdomain.AppendRequest{
		LoanID:                *tx.LoanID,
		ProviderTransactionID: tx.ProviderTransactionID,
		EventType:             ledgerdomain.EventTypeNSF,
		Amount:                tx.Amount,
		EffectiveDate:         tx.OccurredAt,
		Environment:           tx.Environment,
		Payload:               payload,
	})
	if err != nil {
		return Effect{}, fmt.Errorf("append ledger event: %w", err)
	}
	if !inserted {
		return Effect{Result: webhookdomain.ResultDuplicate}, nil
	}

	m.log.Info("payment failure recorded",
		zap.String("provider_transaction_id", tx.ProviderTransactionID),
		zap.String("loan_id", tx.LoanID.String()),
	)
	return Effect{Result: webhookdomain.ResultApplied, LedgerEventID: eventID}, nil
}
