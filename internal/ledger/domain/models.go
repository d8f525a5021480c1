package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EventType identifies the financial effect recorded on a loan.
type EventType string

const (
	EventTypePaymentReceived EventType = "PAYMENT_RECEIVED"
	EventTypeNSF             EventType = "NSF"
)

// Event is an append-only loan ledger row. At most one exists per provider
// transaction id.
type Event struct {
	ID                    snowflake.ID    `json:"id" gorm:"primaryKey"`
	LoanID                snowflake.ID    `json:"loan_id" gorm:"not null;index"`
	ProviderTransactionID string          `json:"provider_transaction_id" gorm:"type:text;not null;uniqueIndex"`
	EventType             EventType       `json:"event_type" gorm:"type:text;not null"`
	Amount                decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	EffectiveDate         time.Time       `json:"effective_date" gorm:"not null"`
	Environment           string          `json:"environment" gorm:"type:text;not null"`
	Payload               datatypes.JSON  `json:"payload,omitempty" gorm:"type:jsonb"`
	CreatedAt             time.Time       `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "loan_ledger_events" }

// SummaryLine aggregates events of one type.
type SummaryLine struct {
	EventType EventType       `json:"event_type"`
	Count     int64           `json:"count"`
	Total     decimal.Decimal `json:"total"`
}

// Summary aggregates a loan's ledger for the given environments.
type Summary struct {
	LoanID       snowflake.ID    `json:"loan_id"`
	Environments []string        `json:"environments"`
	Lines        []SummaryLine   `json:"lines"`
	Received     decimal.Decimal `json:"received"`
}
