package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CandidateFilter struct {
	From time.Time
	To   time.Time
	// ClientID restricts candidates to one client's loans when known.
	ClientID *snowflake.ID
	// LoanIDs restricts candidates to specific loans when non-empty.
	LoanIDs []snowflake.ID
}

type Repository interface {
	LookupLink(ctx context.Context, db *gorm.DB, providerTransactionID string) (*Link, error)
	FindLoan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Loan, error)
	// ListScheduledInstallments returns scheduled installments of active loans
	// due within [From, To].
	ListScheduledInstallments(ctx context.Context, db *gorm.DB, filter CandidateFilter) ([]InstallmentCandidate, error)
	// MarkInstallmentPaid transitions scheduled to paid and reports whether
	// this call performed the transition.
	MarkInstallmentPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)
	FindInstallment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Installment, error)
}
