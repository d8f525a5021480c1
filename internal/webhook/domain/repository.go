package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrphanFilter selects unresolved transactions.
type OrphanFilter struct {
	NeedsReview  *bool
	CreatedAfter *time.Time
	AfterID      *snowflake.ID
	Limit        int
}

type Repository interface {
	InsertLog(ctx context.Context, db *gorm.DB, entry *WebhookLog) error
	ListLogs(ctx context.Context, db *gorm.DB, providerTransactionID string) ([]WebhookLog, error)

	// UpsertTransaction inserts the record or refreshes its mutable status
	// fields. It reports whether a new row was created.
	UpsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	FindTransaction(ctx context.Context, db *gorm.DB, providerTransactionID string) (*Transaction, error)
	// SetResolution writes client and loan only when both are still null and
	// clears any review flag in the same statement.
	SetResolution(ctx context.Context, db *gorm.DB, id snowflake.ID, clientID, loanID snowflake.ID, updatedAt time.Time) (bool, error)
	MarkNeedsReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, updatedAt time.Time) error
	ListOrphans(ctx context.Context, db *gorm.DB, filter OrphanFilter) ([]*Transaction, error)
}
