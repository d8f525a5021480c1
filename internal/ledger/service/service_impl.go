package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	ledgerdomain "github.com/smallbiznis/reconciler/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	prodEnvs   []string
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		prodEnvs:   p.Config.Webhook.ProductionEnvironments,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, db *gorm.DB, req ledgerdomain.AppendRequest) (snowflake.ID, bool, error) {
	if req.LoanID == 0 {
		return 0, false, ledgerdomain.ErrInvalidLoan
	}
	providerTxID := strings.TrimSpace(req.ProviderTransactionID)
	if providerTxID == "" {
		return 0, false, ledgerdomain.ErrInvalidTransactionID
	}
	eventType, err := normalizeEventType(req.EventType)
	if err != nil {
		return 0, false, err
	}
	if req.Amount.IsNegative() {
		return 0, false, ledgerdomain.ErrInvalidAmount
	}
	if req.EffectiveDate.IsZero() {
		return 0, false, ledgerdomain.ErrInvalidEffectiveDate
	}
	environment := strings.TrimSpace(req.Environment)
	if environment == "" {
		return 0, false, ledgerdomain.ErrInvalidEnvironment
	}

	var payload datatypes.JSON
	if len(req.Payload) > 0 {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return 0, false, err
		}
		payload = datatypes.JSON(raw)
	}

	conn := s.conn(db)

	exists, err := s.Exists(ctx, conn, providerTxID)
	if err != nil {
		return 0, false, err
	}
	if exists {
		return 0, false, nil
	}

	eventID := s.genID.Generate()
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO loan_ledger_events (
			id, loan_id, provider_transaction_id, event_type, amount,
			effective_date, environment, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_transaction_id) DO NOTHING`,
		eventID,
		req.LoanID,
		providerTxID,
		string(eventType),
		req.Amount,
		req.EffectiveDate.UTC(),
		environment,
		payload,
		s.clock.Now().UTC(),
	)
	if result.Error != nil {
		return 0, false, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}

	s.log.Info("ledger event appended",
		zap.String("ledger_event_id", eventID.String()),
		zap.String("loan_id", req.LoanID.String()),
		zap.String("event_type", string(eventType)),
		zap.String("provider_transaction_id", providerTxID),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEvent(ctx, string(eventType))
	}
	return eventID, true, nil
}

func (s *Service) Exists(ctx context.Context, db *gorm.DB, providerTransactionID string) (bool, error) {
	var count int64
	err := s.conn(db).WithContext(ctx).
		Model(&ledgerdomain.Event{}).
		Where("provider_transaction_id = ?", strings.TrimSpace(providerTransactionID)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) ListByLoan(ctx context.Context, loanID snowflake.ID, environments []string) ([]ledgerdomain.Event, error) {
	if loanID == 0 {
		return nil, ledgerdomain.ErrInvalidLoan
	}
	if len(environments) == 0 {
		return nil, ledgerdomain.ErrInvalidEnvironment
	}

	var items []ledgerdomain.Event
	err := s.db.WithContext(ctx).
		Where("loan_id = ? AND environment IN ?", loanID, environments).
		Order("effective_date ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Summary aggregates production ledger events for a loan. Non-production
// environments are always excluded.
func (s *Service) Summary(ctx context.Context, loanID snowflake.ID) (ledgerdomain.Summary, error) {
	if loanID == 0 {
		return ledgerdomain.Summary{}, ledgerdomain.ErrInvalidLoan
	}
	if len(s.prodEnvs) == 0 {
		return ledgerdomain.Summary{}, ledgerdomain.ErrInvalidEnvironment
	}

	type row struct {
		EventType string
		Count     int64
		Total     decimal.Decimal
	}
	var rows []row
	err := s.db.WithContext(ctx).Raw(
		`SELECT event_type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
		 FROM loan_ledger_events
		 WHERE loan_id = ? AND environment IN ?
		 GROUP BY event_type
		 ORDER BY event_type ASC`,
		loanID,
		s.prodEnvs,
	).Scan(&rows).Error
	if err != nil {
		return ledgerdomain.Summary{}, err
	}

	summary := ledgerdomain.Summary{
		LoanID:       loanID,
		Environments: append([]string(nil), s.prodEnvs...),
		Lines:        make([]ledgerdomain.SummaryLine, 0, len(rows)),
		Received:     decimal.Zero,
	}
	for _, r := range rows {
		line := ledgerdomain.SummaryLine{
			EventType: ledgerdomain.EventType(r.EventType),
			Count:     r.Count,
			Total:     r.Total,
		}
		summary.Lines = append(summary.Lines, line)
		if line.EventType == ledgerdomain.EventTypePaymentReceived {
			summary.Received = summary.Received.Add(r.Total)
		}
	}
	return summary, nil
}

func (s *Service) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func normalizeEventType(eventType ledgerdomain.EventType) (ledgerdomain.EventType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(string(eventType)))
	switch normalized {
	case string(ledgerdomain.EventTypePaymentReceived):
		return ledgerdomain.EventTypePaymentReceived, nil
	case string(ledgerdomain.EventTypeNSF):
		return ledgerdomain.EventTypeNSF, nil
	default:
		return "", ledgerdomain.ErrInvalidEventType
	}
}
