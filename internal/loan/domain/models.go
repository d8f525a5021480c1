package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusClosed LoanStatus = "closed"
)

// Loan is read-only here; the loan aggregate is owned elsewhere.
type Loan struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	ClientID snowflake.ID `json:"client_id" gorm:"not null;index"`
	Status   LoanStatus   `json:"status" gorm:"type:text;not null"`
}

func (Loan) TableName() string { return "loans" }

type InstallmentStatus string

const (
	InstallmentStatusScheduled InstallmentStatus = "scheduled"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusMissed    InstallmentStatus = "missed"
)

type Installment struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	LoanID            snowflake.ID      `json:"loan_id" gorm:"not null;index"`
	ScheduleVersionID snowflake.ID      `json:"schedule_version_id" gorm:"not null"`
	DueDate           time.Time         `json:"due_date" gorm:"not null"`
	Amount            decimal.Decimal   `json:"amount" gorm:"type:numeric(18,2);not null"`
	Status            InstallmentStatus `json:"status" gorm:"type:text;not null"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
}

func (Installment) TableName() string { return "loan_installments" }

// InstallmentCandidate is a scheduled installment joined with its loan owner.
type InstallmentCandidate struct {
	InstallmentID snowflake.ID
	LoanID        snowflake.ID
	ClientID      snowflake.ID
	DueDate       time.Time
	Amount        decimal.Decimal
}

// Link is written when the system itself initiates a provider transaction.
type Link struct {
	ProviderTransactionID string       `json:"provider_transaction_id" gorm:"primaryKey"`
	ClientID              snowflake.ID `json:"client_id" gorm:"not null"`
	LoanID                snowflake.ID `json:"loan_id" gorm:"not null"`
	CreatedAt             time.Time    `json:"created_at"`
}

func (Link) TableName() string { return "transaction_links" }
