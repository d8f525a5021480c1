package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AppendRequest struct {
	LoanID                snowflake.ID
	ProviderTransactionID string
	EventType             EventType
	Amount                decimal.Decimal
	EffectiveDate         time.Time
	Environment           string
	Payload               map[string]any
}

// Service appends and reads loan ledger events. Methods taking a *gorm.DB run
// on that handle so callers can compose them in a transaction; nil uses the
// service's own connection.
type Service interface {
	Append(ctx context.Context, db *gorm.DB, req AppendRequest) (snowflake.ID, bool, error)
	Exists(ctx context.Context, db *gorm.DB, providerTransactionID string) (bool, error)
	ListByLoan(ctx context.Context, loanID snowflake.ID, environments []string) ([]Event, error)
	Summary(ctx context.Context, loanID snowflake.ID) (Summary, error)
}

var (
	ErrInvalidLoan          = errors.New("invalid_loan")
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrInvalidEventType     = errors.New("invalid_event_type")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidEffectiveDate = errors.New("invalid_effective_date")
	ErrInvalidEnvironment   = errors.New("invalid_environment")
)
