package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ProcessingResult is the outcome recorded on every webhook log entry.
type ProcessingResult string

const (
	ResultApplied       ProcessingResult = "applied"
	ResultDuplicate     ProcessingResult = "duplicate"
	ResultStatusOnly    ProcessingResult = "status_only"
	ResultUnresolved    ProcessingResult = "unresolved"
	ResultNeedsReview   ProcessingResult = "needs_review"
	ResultNonProduction ProcessingResult = "non_production"
)

const (
	ReviewReasonAmbiguousInstallment = "ambiguous_installment_match"
	// ReviewReasonAmbiguousSettlement flags a resolved payment whose loan has
	// several equally plausible scheduled installments.
	ReviewReasonAmbiguousSettlement = "ambiguous_installment_settlement"
)

// Notification is a parsed, authenticated provider callback.
type Notification struct {
	ProviderTransactionID string
	TransactionType       string
	Amount                decimal.Decimal
	Status                Status
	OccurredAt            time.Time
	FailureReason         string
	Environment           string
	RawPayload            []byte
}

// WebhookLog is the append-only audit row written once per accepted call.
type WebhookLog struct {
	ID                    snowflake.ID     `json:"id" gorm:"primaryKey"`
	ProviderTransactionID string           `json:"provider_transaction_id" gorm:"type:text;not null;index"`
	RawPayload            datatypes.JSON   `json:"raw_payload" gorm:"type:jsonb;not null"`
	ProcessingResult      ProcessingResult `json:"processing_result" gorm:"type:text;not null"`
	Environment           string           `json:"environment" gorm:"type:text;not null"`
	ReceivedAt            time.Time        `json:"received_at" gorm:"not null"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }

// Transaction is the single current-state record per provider transaction.
type Transaction struct {
	ID                    snowflake.ID    `json:"id" gorm:"primaryKey"`
	ProviderTransactionID string          `json:"provider_transaction_id" gorm:"type:text;not null;uniqueIndex"`
	TransactionType       string          `json:"transaction_type" gorm:"type:text;not null"`
	Amount                decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Status                Status          `json:"status" gorm:"type:text;not null"`
	FailureReason         *string         `json:"failure_reason,omitempty" gorm:"type:text"`
	OccurredAt            time.Time       `json:"occurred_at" gorm:"not null"`
	ClientID              *snowflake.ID   `json:"client_id,omitempty"`
	LoanID                *snowflake.ID   `json:"loan_id,omitempty"`
	Environment           string          `json:"environment" gorm:"type:text;not null"`
	NeedsReview           bool            `json:"needs_review" gorm:"not null;default:false"`
	ReviewReason          *string         `json:"review_reason,omitempty" gorm:"type:text"`
	CreatedAt             time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time       `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

// Resolved reports whether the record is already tied to a loan.
func (t *Transaction) Resolved() bool {
	return t != nil && t.LoanID != nil && t.ClientID != nil
}

// Resolution ties a transaction to a client and loan.
type Resolution struct {
	ClientID snowflake.ID
	LoanID   snowflake.ID
	// InstallmentID is set when the match came from the installment schedule.
	InstallmentID *snowflake.ID
	Method        string
}

const (
	ResolutionMethodLinkage     = "linkage"
	ResolutionMethodInstallment = "installment"
	ResolutionMethodManual      = "manual"
	ResolutionMethodNone        = "none"
)
