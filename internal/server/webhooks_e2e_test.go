package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/reconciler/internal/audit/repository"
	auditservice "github.com/smallbiznis/reconciler/internal/audit/service"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	ledgerservice "github.com/smallbiznis/reconciler/internal/ledger/service"
	loanrepo "github.com/smallbiznis/reconciler/internal/loan/repository"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/resolver"
	"github.com/smallbiznis/reconciler/internal/statemachine"
	"github.com/smallbiznis/reconciler/internal/testutil"
	webhookrepo "github.com/smallbiznis/reconciler/internal/webhook/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newE2EServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()

	db := testutil.OpenDB(t)
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	cfg := testConfig()
	fake := clock.NewFakeClock(time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC))

	loans := loanrepo.Provide()
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: fake, Config: cfg})
	res := resolver.New(resolver.Params{
		Log:       log,
		LoanRepo:  loans,
		Reconcile: config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
	})
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepo.Provide()})
	machine := statemachine.New(statemachine.Params{Log: log, Ledger: ledger, LoanRepo: loans, Resolver: res})
	svc := reconciliation.NewService(reconciliation.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Config:   cfg,
		Repo:     webhookrepo.Provide(),
		LoanRepo: loans,
		Resolver: res,
		Machine:  machine,
		Audit:    audit,
	})

	require.NoError(t, db.Exec(`INSERT INTO loans (id, client_id, status) VALUES (1, 100, 'active')`).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO loan_installments (id, loan_id, schedule_version_id, due_date, amount, status) VALUES (10, 1, 1, ?, '5000', 'scheduled')`,
		time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC),
	).Error)

	return newTestServer(t, cfg, svc, ledger, audit), db
}

func TestWebhookEndToEndIdempotentDelivery(t *testing.T) {
	s, db := newE2EServer(t)
	body := notificationBody(t, nil)

	for i := 0; i < 2; i++ {
		rec := doRequest(s, http.MethodPost, "/webhooks/payments", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"success":true,"transactionId":"TX1","status":"successful"}`, rec.Body.String())
	}

	testutil.AssertCount(t, db, "webhook_logs", 2)
	testutil.AssertCount(t, db, "payment_transactions", 1)
	testutil.AssertCount(t, db, "loan_ledger_events", 1)

	var status string
	require.NoError(t, db.Raw(`SELECT status FROM loan_installments WHERE id = 10`).Scan(&status).Error)
	assert.Equal(t, "paid", status)

	rec := doRequest(s, http.MethodGet, "/api/loans/1/ledger/summary", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PAYMENT_RECEIVED"`)

	rec = doRequest(s, http.MethodGet, "/api/loans/1/ledger", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `"provider_transaction_id":"TX1"`))
	assert.Contains(t, rec.Body.String(), `"installment_id":"10"`)
}

func TestWebhookEndToEndTamperedSignaturePersistsNothing(t *testing.T) {
	s, db := newE2EServer(t)

	rec := doRequest(s, http.MethodPost, "/webhooks/payments",
		notificationBody(t, map[string]any{"ValidationKey": sign(t, "TX-OTHER")}), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	testutil.AssertCount(t, db, "webhook_logs", 0)
	testutil.AssertCount(t, db, "payment_transactions", 0)
	testutil.AssertCount(t, db, "loan_ledger_events", 0)
}

func TestWebhookEndToEndOrphanThenManualResolve(t *testing.T) {
	s, db := newE2EServer(t)

	body := notificationBody(t, map[string]any{
		"TransactionID":   "TX-ONE-OFF",
		"TransactionType": "one_time",
		"ValidationKey":   sign(t, "TX-ONE-OFF"),
	})
	rec := doRequest(s, http.MethodPost, "/webhooks/payments", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.AssertCount(t, db, "loan_ledger_events", 0)

	rec = doRequest(s, http.MethodGet, "/api/transactions/orphans", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider_transaction_id":"TX-ONE-OFF"`)

	rec = doRequest(s, http.MethodPost, "/api/transactions/TX-ONE-OFF/resolve", `{"client_id":"100","loan_id":"1"}`, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	testutil.AssertCount(t, db, "loan_ledger_events", 1)

	rec = doRequest(s, http.MethodPost, "/api/transactions/TX-ONE-OFF/resolve", `{"client_id":"100","loan_id":"1"}`, adminHeaders())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/transactions/TX-ONE-OFF/logs", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processing_result":"unresolved"`)

	rec = doRequest(s, http.MethodGet, "/api/audit-logs?target_id=TX-ONE-OFF", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, `"action":"transaction.resolved_manually"`)
	assert.Contains(t, body, `"actor_type":"admin"`)
	assert.Contains(t, body, `"actor_id":"****oken"`)
	assert.NotContains(t, body, testAdminToken)
	testutil.AssertCount(t, db, "audit_logs", 1)
}
