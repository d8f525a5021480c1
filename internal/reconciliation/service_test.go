package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/reconciler/internal/audit/repository"
	auditservice "github.com/smallbiznis/reconciler/internal/audit/service"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	ledgerservice "github.com/smallbiznis/reconciler/internal/ledger/service"
	loanrepo "github.com/smallbiznis/reconciler/internal/loan/repository"
	"github.com/smallbiznis/reconciler/internal/resolver"
	"github.com/smallbiznis/reconciler/internal/statemachine"
	"github.com/smallbiznis/reconciler/internal/testutil"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	webhookrepo "github.com/smallbiznis/reconciler/internal/webhook/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	logs    *observer.ObservedLogs
	clock   *clock.FakeClock
	svc     *Service
	sweeper *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, webhookrepo.Provide())
}

func newHarnessWithRepo(t *testing.T, repo domain.Repository) *harness {
	t.Helper()

	db := testutil.OpenDB(t)
	observed, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), observed))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(baseTime)

	cfg := config.Config{
		Webhook: config.WebhookConfig{
			SharedSecret:           "test-secret",
			SignatureAlgorithm:     "sha1",
			ProductionEnvironments: []string{"production"},
			RequestTimeout:         5 * time.Second,
		},
	}
	reconcileCfg := config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	loans := loanrepo.Provide()

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: fake, Config: cfg})
	res := resolver.New(resolver.Params{Log: log, LoanRepo: loans, Reconcile: reconcileCfg})
	machine := statemachine.New(statemachine.Params{Log: log, Ledger: ledger, LoanRepo: loans, Resolver: res})
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepo.Provide()})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Config:   cfg,
		Repo:     repo,
		LoanRepo: loans,
		Resolver: res,
		Machine:  machine,
		Audit:    audit,
	})
	sweeper := NewSweeper(SweeperParams{
		DB:        db,
		Log:       log,
		Clock:     fake,
		Config:    cfg,
		Reconcile: reconcileCfg,
		Repo:      repo,
		Resolver:  res,
		Machine:   machine,
		Audit:     audit,
	})

	h := &harness{db: db, logs: logs, clock: fake, svc: svc, sweeper: sweeper}
	h.exec(t, `INSERT INTO loans (id, client_id, status) VALUES (1, 100, 'active')`)
	h.exec(t, `INSERT INTO loans (id, client_id, status) VALUES (2, 200, 'active')`)
	return h
}

func (h *harness) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	if err := h.db.Exec(sql, args...).Error; err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

func (h *harness) installment(t *testing.T, id, loanID int64, due time.Time, amount string) {
	t.Helper()
	h.exec(t,
		`INSERT INTO loan_installments (id, loan_id, schedule_version_id, due_date, amount, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, loanID, 1, time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC), amount, "scheduled",
	)
}

func (h *harness) link(t *testing.T, providerTxID string, clientID, loanID int64) {
	t.Helper()
	h.exec(t,
		`INSERT INTO transaction_links (provider_transaction_id, client_id, loan_id, created_at) VALUES (?, ?, ?, ?)`,
		providerTxID, clientID, loanID, baseTime,
	)
}

func (h *harness) installmentStatus(t *testing.T, id int64) string {
	t.Helper()
	var status string
	require.NoError(t, h.db.Raw(`SELECT status FROM loan_installments WHERE id = ?`, id).Scan(&status).Error)
	return status
}

func (h *harness) transaction(t *testing.T, providerTxID string) *domain.Transaction {
	t.Helper()
	tx, err := webhookrepo.Provide().FindTransaction(context.Background(), h.db, providerTxID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	return tx
}

func notification(id, txType string, status domain.Status, amount int64) domain.Notification {
	return domain.Notification{
		ProviderTransactionID: id,
		TransactionType:       txType,
		Amount:                decimal.NewFromInt(amount),
		Status:                status,
		OccurredAt:            baseTime,
		Environment:           "production",
		RawPayload:            []byte(`{"TransactionID":"` + id + `"}`),
	}
}

func TestScenarioSuccessfulPaymentPaysInstallment(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 2), "5000")

	out, err := h.svc.Process(context.Background(), notification("TX1", "recurring", domain.StatusSuccessful, 5000))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultApplied, out.Result)
	require.NotNil(t, out.Resolution)
	assert.Equal(t, snowflake.ID(1), out.Resolution.LoanID)

	assert.Equal(t, "paid", h.installmentStatus(t, 10))
	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
	testutil.AssertCount(t, h.db, "webhook_logs", 1)

	var eventType string
	var amount decimal.Decimal
	row := h.db.Raw(`SELECT event_type, amount FROM loan_ledger_events WHERE provider_transaction_id = ?`, "TX1").Row()
	require.NoError(t, row.Scan(&eventType, &amount))
	assert.Equal(t, "PAYMENT_RECEIVED", eventType)
	assert.True(t, decimal.NewFromInt(5000).Equal(amount))

	tx := h.transaction(t, "TX1")
	require.NotNil(t, tx.LoanID)
	assert.Equal(t, snowflake.ID(1), *tx.LoanID)
	assert.Equal(t, domain.StatusSuccessful, tx.Status)
}

func TestScenarioRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 2), "5000")
	n := notification("TX1", "recurring", domain.StatusSuccessful, 5000)

	_, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	first := h.transaction(t, "TX1")

	h.clock.Advance(time.Minute)
	out, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultDuplicate, out.Result)

	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
	testutil.AssertCount(t, h.db, "payment_transactions", 1)
	testutil.AssertCount(t, h.db, "webhook_logs", 2)

	second := h.transaction(t, "TX1")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.LoanID, *second.LoanID)
	assert.Equal(t, "paid", h.installmentStatus(t, 10))
}

func TestScenarioFailedPaymentRecordsNSF(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 2), "3000")
	h.link(t, "TX2", 100, 1)

	n := notification("TX2", "one_time", domain.StatusFailed, 3000)
	n.FailureReason = "insufficient funds"

	out, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultApplied, out.Result)

	var eventType string
	require.NoError(t, h.db.Raw(`SELECT event_type FROM loan_ledger_events WHERE provider_transaction_id = ?`, "TX2").Scan(&eventType).Error)
	assert.Equal(t, "NSF", eventType)
	assert.Equal(t, "scheduled", h.installmentStatus(t, 10))

	tx := h.transaction(t, "TX2")
	require.NotNil(t, tx.FailureReason)
	assert.Equal(t, "insufficient funds", *tx.FailureReason)
}

func TestScenarioUnknownTransactionBecomesOrphan(t *testing.T) {
	h := newHarness(t)

	out, err := h.svc.Process(context.Background(), notification("TX-unknown", "recurring", domain.StatusSuccessful, 777))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultUnresolved, out.Result)

	tx := h.transaction(t, "TX-unknown")
	assert.Nil(t, tx.ClientID)
	assert.Nil(t, tx.LoanID)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 0)

	page, err := h.svc.ListOrphans(context.Background(), domain.ListOrphansRequest{})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "TX-unknown", page.Transactions[0].ProviderTransactionID)
}

func TestAmbiguousMatchIsFlaggedForReview(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 3), "5000")
	h.installment(t, 20, 2, baseTime.AddDate(0, 0, -3), "5000")

	out, err := h.svc.Process(context.Background(), notification("TX3", "recurring", domain.StatusSuccessful, 5000))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultNeedsReview, out.Result)

	tx := h.transaction(t, "TX3")
	assert.Nil(t, tx.LoanID)
	assert.True(t, tx.NeedsReview)
	require.NotNil(t, tx.ReviewReason)
	assert.Equal(t, domain.ReviewReasonAmbiguousInstallment, *tx.ReviewReason)
	assert.Equal(t, "scheduled", h.installmentStatus(t, 10))
	assert.Equal(t, "scheduled", h.installmentStatus(t, 20))

	flagged := true
	page, err := h.svc.ListOrphans(context.Background(), domain.ListOrphansRequest{NeedsReview: &flagged})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
}

func TestOutOfOrderDeliveryKeepsLastWriter(t *testing.T) {
	h := newHarness(t)
	h.link(t, "TX4", 100, 1)

	_, err := h.svc.Process(context.Background(), notification("TX4", "one_time", domain.StatusSuccessful, 900))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	out, err := h.svc.Process(context.Background(), notification("TX4", "one_time", domain.StatusPending, 900))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusOnly, out.Result)

	assert.Equal(t, domain.StatusPending, h.transaction(t, "TX4").Status)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)

	entries := h.logs.FilterMessage("status changed after terminal status").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "successful", entries[0].ContextMap()["previous_status"])
}

func TestResolutionIsNeverOverwritten(t *testing.T) {
	h := newHarness(t)
	h.link(t, "TX5", 100, 1)

	_, err := h.svc.Process(context.Background(), notification("TX5", "one_time", domain.StatusPending, 100))
	require.NoError(t, err)

	h.exec(t, `UPDATE transaction_links SET client_id = 200, loan_id = 2 WHERE provider_transaction_id = 'TX5'`)
	_, err = h.svc.Process(context.Background(), notification("TX5", "one_time", domain.StatusSuccessful, 100))
	require.NoError(t, err)

	tx := h.transaction(t, "TX5")
	require.NotNil(t, tx.LoanID)
	assert.Equal(t, snowflake.ID(1), *tx.LoanID)
}

func TestNonProductionTrafficHasNoFinancialEffect(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 1), "5000")
	h.link(t, "TX6", 100, 1)

	n := notification("TX6", "recurring", domain.StatusSuccessful, 5000)
	n.Environment = "Sandbox"

	out, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultNonProduction, out.Result)

	testutil.AssertCount(t, h.db, "loan_ledger_events", 0)
	assert.Equal(t, "scheduled", h.installmentStatus(t, 10))

	tx := h.transaction(t, "TX6")
	assert.Equal(t, "sandbox", tx.Environment)
	assert.Nil(t, tx.LoanID)
}

func TestProcessValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		mutate func(n *domain.Notification)
		want   error
	}{
		{"missing id", func(n *domain.Notification) { n.ProviderTransactionID = "" }, domain.ErrInvalidTransactionID},
		{"unknown status", func(n *domain.Notification) { n.Status = "refunded" }, domain.ErrInvalidStatus},
		{"negative amount", func(n *domain.Notification) { n.Amount = decimal.NewFromInt(-5) }, domain.ErrInvalidAmount},
		{"missing time", func(n *domain.Notification) { n.OccurredAt = time.Time{} }, domain.ErrInvalidOccurredAt},
		{"missing environment", func(n *domain.Notification) { n.Environment = " " }, domain.ErrInvalidEnvironment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := notification("TX7", "recurring", domain.StatusPending, 1)
			tc.mutate(&n)
			_, err := h.svc.Process(context.Background(), n)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsValidation(err))
		})
	}

	testutil.AssertCount(t, h.db, "payment_transactions", 0)
	testutil.AssertCount(t, h.db, "webhook_logs", 0)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.link(t, "TX8", 100, 1)
	h.exec(t, `DROP TABLE loan_ledger_events`)

	_, err := h.svc.Process(context.Background(), notification("TX8", "one_time", domain.StatusSuccessful, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))

	testutil.AssertCount(t, h.db, "payment_transactions", 0)
	testutil.AssertCount(t, h.db, "webhook_logs", 0)
}

// conflictingRepo fails the first upserts the way a losing concurrent insert
// of the same provider transaction id does.
type conflictingRepo struct {
	domain.Repository
	err      error
	failures int
	calls    int
}

func (r *conflictingRepo) UpsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	r.calls++
	if r.failures > 0 {
		r.failures--
		return false, r.err
	}
	return r.Repository.UpsertTransaction(ctx, db, tx)
}

func TestProcessRetriesAfterWriteConflict(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, failures: 1, wantCalls: 2},
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, failures: 1, wantCalls: 2},
		{name: "conflict persists", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, failures: 2, wantErr: true, wantCalls: 2},
		{name: "other error is not retried", err: errors.New("disk full"), failures: 1, wantErr: true, wantCalls: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &conflictingRepo{Repository: webhookrepo.Provide(), err: tc.err, failures: tc.failures}
			h := newHarnessWithRepo(t, repo)
			h.link(t, "TX1", 100, 1)

			out, err := h.svc.Process(context.Background(), notification("TX1", "one_time", domain.StatusSuccessful, 5000))
			assert.Equal(t, tc.wantCalls, repo.calls)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPersistence)
				testutil.AssertCount(t, h.db, "payment_transactions", 0)
				testutil.AssertCount(t, h.db, "webhook_logs", 0)
				testutil.AssertCount(t, h.db, "loan_ledger_events", 0)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ResultApplied, out.Result)
			assert.Len(t, h.logs.FilterMessage("retrying notification after write conflict").All(), 1)
			testutil.AssertCount(t, h.db, "payment_transactions", 1)
			testutil.AssertCount(t, h.db, "webhook_logs", 1)
			testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
		})
	}
}

func TestResolveManually(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Process(context.Background(), notification("TX9", "one_time", domain.StatusFailed, 250))
	require.NoError(t, err)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 0)

	_, err = h.svc.ResolveManually(context.Background(), domain.ResolveRequest{ProviderTransactionID: "TX9", ClientID: "200", LoanID: "1"})
	assert.ErrorIs(t, err, domain.ErrLoanClientMismatch)

	_, err = h.svc.ResolveManually(context.Background(), domain.ResolveRequest{ProviderTransactionID: "nope", ClientID: "100", LoanID: "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.ResolveManually(context.Background(), domain.ResolveRequest{ProviderTransactionID: "TX9", ClientID: "abc", LoanID: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidResolution)

	out, err := h.svc.ResolveManually(context.Background(), domain.ResolveRequest{ProviderTransactionID: "TX9", ClientID: "100", LoanID: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultApplied, out.Result)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
	testutil.AssertCount(t, h.db, "audit_logs", 1)

	_, err = h.svc.ResolveManually(context.Background(), domain.ResolveRequest{ProviderTransactionID: "TX9", ClientID: "200", LoanID: "2"})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	testutil.AssertCount(t, h.db, "audit_logs", 1)
}

func TestListOrphansPaginates(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"TXA", "TXB", "TXC"} {
		_, err := h.svc.Process(context.Background(), notification(id, "one_time", domain.StatusPending, 1))
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	first, err := h.svc.ListOrphans(context.Background(), domain.ListOrphansRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := h.svc.ListOrphans(context.Background(), domain.ListOrphansRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "TXC", second.Transactions[0].ProviderTransactionID)

	_, err = h.svc.ListOrphans(context.Background(), domain.ListOrphansRequest{PageToken: "!!!"})
	assert.True(t, domain.IsValidation(err))
}

func TestListLogsReturnsEveryCall(t *testing.T) {
	h := newHarness(t)
	n := notification("TX10", "one_time", domain.StatusPending, 1)

	_, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.svc.Process(context.Background(), n)
	require.NoError(t, err)

	logs, err := h.svc.ListLogs(context.Background(), "TX10")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ResultUnresolved, logs[0].ProcessingResult)
	assert.Equal(t, domain.ResultUnresolved, logs[1].ProcessingResult)

	_, err = h.svc.ListLogs(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
