package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, entry *domain.WebhookLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_logs (
			id, provider_transaction_id, raw_payload, processing_result, environment, received_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ProviderTransactionID,
		entry.RawPayload,
		entry.ProcessingResult,
		entry.Environment,
		entry.ReceivedAt,
	).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, providerTransactionID string) ([]domain.WebhookLog, error) {
	var items []domain.WebhookLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_transaction_id, raw_payload, processing_result, environment, received_at
		 FROM webhook_logs
		 WHERE provider_transaction_id = ?
		 ORDER BY received_at ASC, id ASC`,
		providerTransactionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, provider_transaction_id, transaction_type, amount, status, failure_reason,
			occurred_at, environment, needs_review, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_transaction_id) DO NOTHING`,
		tx.ID,
		tx.ProviderTransactionID,
		tx.TransactionType,
		tx.Amount,
		tx.Status,
		tx.FailureReason,
		tx.OccurredAt,
		tx.Environment,
		tx.NeedsReview,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Existing row: type and amount are immutable, status is last-writer-wins.
	err := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, failure_reason = ?, occurred_at = ?, updated_at = ?
		 WHERE provider_transaction_id = ?`,
		tx.Status,
		tx.FailureReason,
		tx.OccurredAt,
		tx.UpdatedAt,
		tx.ProviderTransactionID,
	).Error
	if err != nil {
		return false, err
	}
	return false, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, providerTransactionID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_transaction_id, transaction_type, amount, status, failure_reason,
			occurred_at, client_id, loan_id, environment, needs_review, review_reason,
			created_at, updated_at
		 FROM payment_transactions
		 WHERE provider_transaction_id = ?
		 LIMIT 1`,
		providerTransactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetResolution(ctx context.Context, db *gorm.DB, id snowflake.ID, clientID, loanID snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET client_id = ?, loan_id = ?, needs_review = ?, review_reason = NULL, updated_at = ?
		 WHERE id = ? AND client_id IS NULL AND loan_id IS NULL`,
		clientID,
		loanID,
		false,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkNeedsReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET needs_review = ?, review_reason = ?, updated_at = ?
		 WHERE id = ?`,
		true,
		reason,
		updatedAt,
		id,
	).Error
}

func (r *repo) ListOrphans(ctx context.Context, db *gorm.DB, filter domain.OrphanFilter) ([]*domain.Transaction, error) {
	query := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("loan_id IS NULL")

	if filter.NeedsReview != nil {
		query = query.Where("needs_review = ?", *filter.NeedsReview)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.AfterID != nil {
		query = query.Where("id > ?", *filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []*domain.Transaction
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
