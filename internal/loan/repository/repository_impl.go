package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/loan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LookupLink(ctx context.Context, db *gorm.DB, providerTransactionID string) (*domain.Link, error) {
	var item domain.Link
	err := db.WithContext(ctx).Raw(
		`SELECT provider_transaction_id, client_id, loan_id, created_at
		 FROM transaction_links
		 WHERE provider_transaction_id = ?
		 LIMIT 1`,
		providerTransactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ProviderTransactionID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindLoan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Loan, error) {
	var item domain.Loan
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, status FROM loans WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListScheduledInstallments(ctx context.Context, db *gorm.DB, filter domain.CandidateFilter) ([]domain.InstallmentCandidate, error) {
	query := db.WithContext(ctx).
		Table("loan_installments AS i").
		Select("i.id AS installment_id, i.loan_id, l.client_id, i.due_date, i.amount").
		Joins("JOIN loans AS l ON l.id = i.loan_id").
		Where("i.status = ?", domain.InstallmentStatusScheduled).
		Where("l.status = ?", domain.LoanStatusActive).
		Where("i.due_date BETWEEN ? AND ?", filter.From, filter.To)

	if filter.ClientID != nil {
		query = query.Where("l.client_id = ?", *filter.ClientID)
	}
	if len(filter.LoanIDs) > 0 {
		query = query.Where("i.loan_id IN ?", filter.LoanIDs)
	}

	var items []domain.InstallmentCandidate
	if err := query.Order("i.due_date ASC, i.id ASC").Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkInstallmentPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE loan_installments
		 SET status = ?, paid_at = ?
		 WHERE id = ? AND status = ?`,
		domain.InstallmentStatusPaid,
		paidAt,
		id,
		domain.InstallmentStatusScheduled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindInstallment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Installment, error) {
	var item domain.Installment
	err := db.WithContext(ctx).Raw(
		`SELECT id, loan_id, schedule_version_id, due_date, amount, status, paid_at
		 FROM loan_installments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
