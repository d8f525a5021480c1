package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/reconciler/internal/audit/domain"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	loandomain "github.com/smallbiznis/reconciler/internal/loan/domain"
	obscontext "github.com/smallbiznis/reconciler/internal/observability/context"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/internal/resolver"
	"github.com/smallbiznis/reconciler/internal/statemachine"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
	"github.com/smallbiznis/reconciler/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250

	maxProcessAttempts = 2
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	LoanRepo   loandomain.Repository
	Resolver   *resolver.Resolver
	Machine    *statemachine.Machine
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	webhookCfg config.WebhookConfig
	repo       domain.Repository
	loanRepo   loandomain.Repository
	resolver   *resolver.Resolver
	machine    *statemachine.Machine
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		webhookCfg: p.Config.Webhook,
		repo:       p.Repo,
		loanRepo:   p.LoanRepo,
		resolver:   p.Resolver,
		machine:    p.Machine,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

// Process records one authenticated provider notification. The log entry,
// transaction upsert, resolution and side effects commit together or not at
// all.
func (s *Service) Process(ctx context.Context, n domain.Notification) (domain.ProcessResult, error) {
	if err := validateNotification(&n); err != nil {
		return domain.ProcessResult{}, err
	}

	ctx = obscontext.WithProviderTransactionID(ctx, n.ProviderTransactionID)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("status", string(n.Status)),
		zap.String("environment", n.Environment),
	)
	production := s.webhookCfg.IsProductionEnvironment(n.Environment)

	var (
		out domain.ProcessResult
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = s.processOnce(ctx, n, production, log)
		if err == nil || attempt >= maxProcessAttempts {
			break
		}
		reason := retryReason(err)
		if reason == "" {
			break
		}
		log.Warn("retrying notification after write conflict",
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	if err != nil {
		log.Error("notification processing failed", zap.Error(err))
		return domain.ProcessResult{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotification(ctx, string(n.Status), string(out.Result))
	}
	log.Info("notification processed", zap.String("result", string(out.Result)))
	return out, nil
}

// processOnce runs one attempt of Process as a single database transaction.
func (s *Service) processOnce(ctx context.Context, n domain.Notification, production bool, log *zap.Logger) (domain.ProcessResult, error) {
	var out domain.ProcessResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		previous, err := s.repo.FindTransaction(ctx, tx, n.ProviderTransactionID)
		if err != nil {
			return err
		}

		record := &domain.Transaction{
			ID:                    s.genID.Generate(),
			ProviderTransactionID: n.ProviderTransactionID,
			TransactionType:       n.TransactionType,
			Amount:                n.Amount,
			Status:                n.Status,
			FailureReason:         optionalString(n.FailureReason),
			OccurredAt:            n.OccurredAt,
			Environment:           n.Environment,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if _, err := s.repo.UpsertTransaction(ctx, tx, record); err != nil {
			return err
		}

		current, err := s.repo.FindTransaction(ctx, tx, n.ProviderTransactionID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("transaction %s missing after upsert", n.ProviderTransactionID)
		}
		if previous != nil && previous.Status.IsTerminal() && previous.Status != n.Status {
			log.Warn("status changed after terminal status",
				zap.String("previous_status", string(previous.Status)),
			)
		}
		if previous != nil && !previous.Amount.Equal(n.Amount) {
			log.Warn("redelivery amount differs from stored amount",
				zap.String("stored_amount", previous.Amount.String()),
				zap.String("delivered_amount", n.Amount.String()),
			)
		}

		result, resolution, err := s.reconcile(ctx, tx, current, production, now)
		if err != nil {
			return err
		}
		if result == domain.ResultStatusOnly && previous != nil && previous.Status == n.Status {
			result = domain.ResultDuplicate
		}

		if err := s.repo.InsertLog(ctx, tx, &domain.WebhookLog{
			ID:                    s.genID.Generate(),
			ProviderTransactionID: n.ProviderTransactionID,
			RawPayload:            rawPayload(n.RawPayload),
			ProcessingResult:      result,
			Environment:           n.Environment,
			ReceivedAt:            now,
		}); err != nil {
			return err
		}

		out = domain.ProcessResult{
			Transaction: current,
			Result:      result,
			Resolution:  resolution,
		}
		return nil
	})
	return out, err
}

// retryReason classifies errors a second attempt can clear. Two first
// deliveries of one id race on the unique insert; the loser sees the
// winner's row on retry.
func retryReason(err error) string {
	switch {
	case db.IsDuplicateKeyErr(err):
		return "duplicate_key"
	case db.IsRetryableErr(err):
		return "transient_conflict"
	default:
		return ""
	}
}

// reconcile resolves current when needed and applies the state machine. It
// mutates current to reflect what was persisted.
func (s *Service) reconcile(ctx context.Context, tx *gorm.DB, current *domain.Transaction, production bool, now time.Time) (domain.ProcessingResult, *domain.Resolution, error) {
	if !production {
		return domain.ResultNonProduction, nil, nil
	}

	var resolution *domain.Resolution
	if !current.Resolved() {
		outcome, err := s.resolver.Resolve(ctx, tx, resolver.Input{
			ProviderTransactionID: current.ProviderTransactionID,
			TransactionType:       current.TransactionType,
			Amount:                current.Amount,
			EffectiveAt:           current.OccurredAt,
			ClientHint:            current.ClientID,
		})
		if err != nil {
			return "", nil, err
		}
		s.recordResolution(ctx, outcome)

		switch {
		case outcome.Resolution != nil:
			if err := s.persistResolution(ctx, tx, current, outcome.Resolution, now); err != nil {
				return "", nil, err
			}
			resolution = outcome.Resolution
		case outcome.NeedsReview:
			if err := s.repo.MarkNeedsReview(ctx, tx, current.ID, outcome.ReviewReason, now); err != nil {
				return "", nil, err
			}
			current.NeedsReview = true
			current.ReviewReason = optionalString(outcome.ReviewReason)
		}
	}

	if !current.Resolved() {
		if current.NeedsReview {
			return domain.ResultNeedsReview, resolution, nil
		}
		return domain.ResultUnresolved, resolution, nil
	}

	input := statemachine.Input{Transaction: current}
	if resolution != nil {
		input.InstallmentID = resolution.InstallmentID
	}
	effect, err := s.machine.Apply(ctx, tx, input)
	if err != nil {
		return "", nil, err
	}
	if effect.NeedsReview {
		if err := s.repo.MarkNeedsReview(ctx, tx, current.ID, effect.ReviewReason, now); err != nil {
			return "", nil, err
		}
		current.NeedsReview = true
		current.ReviewReason = optionalString(effect.ReviewReason)
	}
	return effect.Result, resolution, nil
}

func (s *Service) persistResolution(ctx context.Context, tx *gorm.DB, current *domain.Transaction, resolution *domain.Resolution, now time.Time) error {
	ok, err := s.repo.SetResolution(ctx, tx, current.ID, resolution.ClientID, resolution.LoanID, now)
	if err != nil {
		return err
	}
	if !ok {
		// Resolved concurrently; keep whatever won.
		reloaded, err := s.repo.FindTransaction(ctx, tx, current.ProviderTransactionID)
		if err != nil {
			return err
		}
		if reloaded != nil {
			*current = *reloaded
		}
		return nil
	}

	clientID := resolution.ClientID
	loanID := resolution.LoanID
	current.ClientID = &clientID
	current.LoanID = &loanID
	current.NeedsReview = false
	current.ReviewReason = nil
	current.UpdatedAt = now
	return nil
}

func (s *Service) recordResolution(ctx context.Context, outcome resolver.Outcome) {
	if s.obsMetrics == nil {
		return
	}
	method := domain.ResolutionMethodNone
	if outcome.Resolution != nil {
		method = outcome.Resolution.Method
	}
	s.obsMetrics.RecordResolution(ctx, method, outcome.NeedsReview)
}

// ResolveManually links an orphan to a loan chosen by an operator and applies
// the side effects for its current status. An existing resolution is never
// replaced.
func (s *Service) ResolveManually(ctx context.Context, req domain.ResolveRequest) (domain.ProcessResult, error) {
	providerTxID := strings.TrimSpace(req.ProviderTransactionID)
	if providerTxID == "" {
		return domain.ProcessResult{}, domain.ErrInvalidTransactionID
	}
	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil || clientID == 0 {
		return domain.ProcessResult{}, fmt.Errorf("%w: client_id", domain.ErrInvalidResolution)
	}
	loanID, err := snowflake.ParseString(strings.TrimSpace(req.LoanID))
	if err != nil || loanID == 0 {
		return domain.ProcessResult{}, fmt.Errorf("%w: loan_id", domain.ErrInvalidResolution)
	}

	ctx = obscontext.WithProviderTransactionID(ctx, providerTxID)
	log := logger.WithContext(ctx, s.log).With(zap.String("loan_id", loanID.String()))

	var out domain.ProcessResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		current, err := s.repo.FindTransaction(ctx, tx, providerTxID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if current.Resolved() {
			return domain.ErrAlreadyResolved
		}

		loan, err := s.loanRepo.FindLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return domain.ErrNotFound
		}
		if loan.ClientID != clientID {
			return domain.ErrLoanClientMismatch
		}

		resolution := &domain.Resolution{
			ClientID: clientID,
			LoanID:   loanID,
			Method:   domain.ResolutionMethodManual,
		}
		ok, err := s.repo.SetResolution(ctx, tx, current.ID, clientID, loanID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyResolved
		}
		current.ClientID = &clientID
		current.LoanID = &loanID
		current.NeedsReview = false
		current.ReviewReason = nil
		current.UpdatedAt = now

		result := domain.ResultNonProduction
		if s.webhookCfg.IsProductionEnvironment(current.Environment) {
			effect, err := s.machine.Apply(ctx, tx, statemachine.Input{Transaction: current})
			if err != nil {
				return err
			}
			if effect.NeedsReview {
				if err := s.repo.MarkNeedsReview(ctx, tx, current.ID, effect.ReviewReason, now); err != nil {
					return err
				}
				current.NeedsReview = true
				current.ReviewReason = optionalString(effect.ReviewReason)
			}
			result = effect.Result
		}

		if s.audit != nil {
			if err := s.audit.Record(ctx, tx, auditdomain.Entry{
				Action:     auditdomain.ActionTransactionResolvedManually,
				TargetType: auditdomain.TargetTypePaymentTransaction,
				TargetID:   providerTxID,
				Metadata: map[string]any{
					"client_id": clientID.String(),
					"loan_id":   loanID.String(),
					"result":    string(result),
				},
			}); err != nil {
				return err
			}
		}

		out = domain.ProcessResult{Transaction: current, Result: result, Resolution: resolution}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return domain.ProcessResult{}, err
		}
		log.Error("manual resolution failed", zap.Error(err))
		return domain.ProcessResult{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordResolution(ctx, domain.ResolutionMethodManual, false)
	}
	log.Info("transaction resolved manually", zap.String("result", string(out.Result)))
	return out, nil
}

func (s *Service) ListOrphans(ctx context.Context, req domain.ListOrphansRequest) (domain.ListOrphansResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := domain.OrphanFilter{
		NeedsReview: req.NeedsReview,
		Limit:       pageSize + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListOrphansResponse{}, fmt.Errorf("%w: page_token", domain.ErrValidation)
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListOrphansResponse{}, fmt.Errorf("%w: page_token", domain.ErrValidation)
		}
		filter.AfterID = &afterID
	}

	items, err := s.repo.ListOrphans(ctx, s.db, filter)
	if err != nil {
		return domain.ListOrphansResponse{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	page, info, err := pagination.BuildCursorPageInfo(items, pageSize, func(t *domain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: t.ID.String()}
	})
	if err != nil {
		return domain.ListOrphansResponse{}, err
	}
	if page == nil {
		page = []*domain.Transaction{}
	}

	return domain.ListOrphansResponse{
		PageInfo:     *info,
		Transactions: page,
	}, nil
}

func (s *Service) ListLogs(ctx context.Context, providerTransactionID string) ([]domain.WebhookLog, error) {
	providerTransactionID = strings.TrimSpace(providerTransactionID)
	if providerTransactionID == "" {
		return nil, domain.ErrInvalidTransactionID
	}

	items, err := s.repo.ListLogs(ctx, s.db, providerTransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if len(items) == 0 {
		return nil, domain.ErrNotFound
	}
	return items, nil
}

func validateNotification(n *domain.Notification) error {
	n.ProviderTransactionID = strings.TrimSpace(n.ProviderTransactionID)
	if n.ProviderTransactionID == "" {
		return domain.ErrInvalidTransactionID
	}
	n.TransactionType = strings.TrimSpace(n.TransactionType)
	if n.TransactionType == "" {
		return fmt.Errorf("%w: transaction_type", domain.ErrValidation)
	}
	status, err := domain.ParseStatus(string(n.Status))
	if err != nil {
		return err
	}
	n.Status = status
	if n.Amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if n.OccurredAt.IsZero() {
		return domain.ErrInvalidOccurredAt
	}
	n.OccurredAt = n.OccurredAt.UTC()
	n.Environment = strings.ToLower(strings.TrimSpace(n.Environment))
	if n.Environment == "" {
		return domain.ErrInvalidEnvironment
	}
	n.FailureReason = strings.TrimSpace(n.FailureReason)
	return nil
}

func isDomainError(err error) bool {
	return domain.IsValidation(err) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAlreadyResolved) ||
		errors.Is(err, domain.ErrLoanClientMismatch)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func rawPayload(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
