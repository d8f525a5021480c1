// Package testutil provides an in-memory sqlite store mirroring the
// reconciliation schema.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE webhook_logs (
		id BIGINT PRIMARY KEY,
		provider_transaction_id TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		processing_result TEXT NOT NULL,
		environment TEXT NOT NULL DEFAULT '',
		received_at DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_webhook_logs_provider_tx ON webhook_logs(provider_transaction_id, received_at)`,
	`CREATE TABLE payment_transactions (
		id BIGINT PRIMARY KEY,
		provider_transaction_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT,
		occurred_at DATETIME NOT NULL,
		client_id BIGINT,
		loan_id BIGINT,
		environment TEXT NOT NULL DEFAULT '',
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_transactions_provider_tx ON payment_transactions(provider_transaction_id)`,
	`CREATE TABLE loans (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE loan_installments (
		id BIGINT PRIMARY KEY,
		loan_id BIGINT NOT NULL,
		schedule_version_id BIGINT NOT NULL,
		due_date DATETIME NOT NULL,
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		paid_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE transaction_links (
		provider_transaction_id TEXT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		loan_id BIGINT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE loan_ledger_events (
		id BIGINT PRIMARY KEY,
		loan_id BIGINT NOT NULL,
		provider_transaction_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		effective_date DATETIME NOT NULL,
		environment TEXT NOT NULL,
		payload TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_loan_ledger_events_provider_tx ON loan_ledger_events(provider_transaction_id)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// OpenDB returns an isolated in-memory database with the schema applied.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

// AssertCount fails the test when table does not hold want rows.
func AssertCount(t *testing.T, db *gorm.DB, table string, want int64) {
	t.Helper()

	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if count != want {
		t.Fatalf("expected %d rows in %s, got %d", want, table, count)
	}
}
