package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reconciler/internal/config"
	loanrepo "github.com/smallbiznis/reconciler/internal/loan/repository"
	"github.com/smallbiznis/reconciler/internal/testutil"
	webhookdomain "github.com/smallbiznis/reconciler/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var paidAt = time.Date(2026, 6, 10, 14, 30, 0, 0, time.UTC)

func setup(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()

	db := testutil.OpenDB(t)
	r := New(Params{
		Log:       zaptest.NewLogger(t),
		LoanRepo:  loanrepo.Provide(),
		Reconcile: config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
	})
	return r, db
}

func seedLoan(t *testing.T, db *gorm.DB, loanID, clientID int64, status string) {
	t.Helper()
	require.NoError(t, db.Exec(`INSERT INTO loans (id, client_id, status) VALUES (?, ?, ?)`, loanID, clientID, status).Error)
}

func seedInstallment(t *testing.T, db *gorm.DB, id, loanID int64, due time.Time, amount string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO loan_installments (id, loan_id, schedule_version_id, due_date, amount, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, loanID, 1, truncateDay(due), amount, "scheduled",
	).Error)
}

func TestResolveLinkageShortCircuits(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedLoan(t, db, 2, 200, "active")
	seedInstallment(t, db, 20, 2, paidAt.AddDate(0, 0, 1), "5000")
	require.NoError(t, db.Exec(
		`INSERT INTO transaction_links (provider_transaction_id, client_id, loan_id, created_at) VALUES (?, ?, ?, ?)`,
		"TX1", 100, 1, paidAt,
	).Error)

	out, err := r.Resolve(context.Background(), db, Input{
		ProviderTransactionID: "TX1",
		TransactionType:       "recurring",
		Amount:                decimal.NewFromInt(5000),
		EffectiveAt:           paidAt,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Resolution)
	assert.Equal(t, webhookdomain.ResolutionMethodLinkage, out.Resolution.Method)
	assert.Equal(t, snowflake.ID(1), out.Resolution.LoanID)
	assert.Equal(t, snowflake.ID(100), out.Resolution.ClientID)
	assert.Nil(t, out.Resolution.InstallmentID)
}

func TestResolveMatchesNearestInstallment(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedLoan(t, db, 2, 200, "active")
	seedInstallment(t, db, 10, 1, paidAt.AddDate(0, 0, 2), "5000")
	seedInstallment(t, db, 20, 2, paidAt.AddDate(0, 0, -5), "5000")
	seedInstallment(t, db, 30, 2, paidAt.AddDate(0, 0, 1), "4999.99")

	out, err := r.Resolve(context.Background(), db, Input{
		ProviderTransactionID: "TX1",
		TransactionType:       "Scheduled Recurring",
		Amount:                decimal.RequireFromString("5000.00"),
		EffectiveAt:           paidAt,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Resolution)
	assert.False(t, out.NeedsReview)
	assert.Equal(t, webhookdomain.ResolutionMethodInstallment, out.Resolution.Method)
	assert.Equal(t, snowflake.ID(1), out.Resolution.LoanID)
	require.NotNil(t, out.Resolution.InstallmentID)
	assert.Equal(t, snowflake.ID(10), *out.Resolution.InstallmentID)
}

func TestResolveExactTieNeedsReview(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedLoan(t, db, 2, 200, "active")
	seedInstallment(t, db, 10, 1, paidAt.AddDate(0, 0, 3), "5000")
	seedInstallment(t, db, 20, 2, paidAt.AddDate(0, 0, -3), "5000")

	out, err := r.Resolve(context.Background(), db, Input{
		ProviderTransactionID: "TX1",
		TransactionType:       "recurring",
		Amount:                decimal.NewFromInt(5000),
		EffectiveAt:           paidAt,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Resolution)
	assert.True(t, out.NeedsReview)
	assert.Equal(t, webhookdomain.ReviewReasonAmbiguousInstallment, out.ReviewReason)
}

func TestResolveClientHintBreaksTie(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedLoan(t, db, 2, 200, "active")
	seedInstallment(t, db, 10, 1, paidAt.AddDate(0, 0, 3), "5000")
	seedInstallment(t, db, 20, 2, paidAt.AddDate(0, 0, -3), "5000")

	hint := snowflake.ID(200)
	out, err := r.Resolve(context.Background(), db, Input{
		ProviderTransactionID: "TX1",
		TransactionType:       "recurring",
		Amount:                decimal.NewFromInt(5000),
		EffectiveAt:           paidAt,
		ClientHint:            &hint,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Resolution)
	assert.Equal(t, snowflake.ID(2), out.Resolution.LoanID)
}

func TestResolveLeavesUnresolved(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedLoan(t, db, 2, 200, "closed")
	seedInstallment(t, db, 10, 1, paidAt.AddDate(0, 0, 8), "5000")
	seedInstallment(t, db, 20, 2, paidAt, "5000")

	cases := []struct {
		name string
		in   Input
	}{
		{
			name: "non recurring type",
			in:   Input{ProviderTransactionID: "TX1", TransactionType: "one_time", Amount: decimal.NewFromInt(5000), EffectiveAt: paidAt.AddDate(0, 0, 8)},
		},
		{
			name: "outside window and closed loan",
			in:   Input{ProviderTransactionID: "TX1", TransactionType: "recurring", Amount: decimal.NewFromInt(5000), EffectiveAt: paidAt},
		},
		{
			name: "amount mismatch",
			in:   Input{ProviderTransactionID: "TX1", TransactionType: "recurring", Amount: decimal.NewFromInt(4000), EffectiveAt: paidAt.AddDate(0, 0, 7)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := r.Resolve(context.Background(), db, tc.in)
			require.NoError(t, err)
			assert.Nil(t, out.Resolution)
			assert.False(t, out.NeedsReview)
		})
	}
}

func TestMatchInstallmentWithinLoan(t *testing.T) {
	r, db := setup(t)
	seedLoan(t, db, 1, 100, "active")
	seedInstallment(t, db, 10, 1, paidAt.AddDate(0, 0, -2), "5000")
	seedInstallment(t, db, 11, 1, paidAt.AddDate(0, 0, 2), "5000")
	seedInstallment(t, db, 12, 1, paidAt.AddDate(0, 0, 1), "2500")

	match, err := r.MatchInstallment(context.Background(), db, 1, decimal.NewFromInt(5000), paidAt)
	require.NoError(t, err)
	assert.True(t, match.Ambiguous)
	assert.Nil(t, match.InstallmentID)

	match, err = r.MatchInstallment(context.Background(), db, 1, decimal.NewFromInt(2500), paidAt)
	require.NoError(t, err)
	assert.False(t, match.Ambiguous)
	require.NotNil(t, match.InstallmentID)
	assert.Equal(t, snowflake.ID(12), *match.InstallmentID)
}

func TestMatchInstallmentWindowCoversWholeDays(t *testing.T) {
	cases := []struct {
		name  string
		due   time.Time
		match bool
	}{
		{name: "seven days after with time of day", due: time.Date(2026, 6, 17, 9, 0, 0, 0, time.UTC), match: true},
		{name: "last instant of seventh day after", due: time.Date(2026, 6, 17, 23, 59, 59, 0, time.UTC), match: true},
		{name: "seven days before with time of day", due: time.Date(2026, 6, 3, 18, 45, 0, 0, time.UTC), match: true},
		{name: "eighth day after", due: time.Date(2026, 6, 18, 0, 0, 0, 0, time.UTC), match: false},
		{name: "eighth day before", due: time.Date(2026, 6, 2, 23, 59, 0, 0, time.UTC), match: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, db := setup(t)
			seedLoan(t, db, 1, 100, "active")
			require.NoError(t, db.Exec(
				`INSERT INTO loan_installments (id, loan_id, schedule_version_id, due_date, amount, status) VALUES (?, ?, ?, ?, ?, ?)`,
				10, 1, 1, tc.due, "5000", "scheduled",
			).Error)

			match, err := r.MatchInstallment(context.Background(), db, 1, decimal.NewFromInt(5000), paidAt)
			require.NoError(t, err)
			assert.False(t, match.Ambiguous)
			if !tc.match {
				assert.Nil(t, match.InstallmentID)
				return
			}
			require.NotNil(t, match.InstallmentID)
			assert.Equal(t, snowflake.ID(10), *match.InstallmentID)
		})
	}
}
