package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/testutil"
	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperResolvesLateLinkedOrphans(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Process(context.Background(), notification("TX-late", "one_time", domain.StatusSuccessful, 4200))
	require.NoError(t, err)
	_, err = h.svc.Process(context.Background(), notification("TX-never", "one_time", domain.StatusSuccessful, 10))
	require.NoError(t, err)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 0)

	h.link(t, "TX-late", 100, 1)
	h.clock.Advance(time.Hour)

	stats, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
	assert.Equal(t, 1, stats.Resolved)

	tx := h.transaction(t, "TX-late")
	require.NotNil(t, tx.LoanID)
	assert.Equal(t, snowflake.ID(1), *tx.LoanID)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
	testutil.AssertCount(t, h.db, "audit_logs", 1)

	stats, err = h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 0, stats.Resolved)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 1)
}

func TestSweeperSkipsFlaggedAndStaleOrphans(t *testing.T) {
	h := newHarness(t)
	h.installment(t, 10, 1, baseTime.AddDate(0, 0, 3), "5000")
	h.installment(t, 20, 2, baseTime.AddDate(0, 0, -3), "5000")

	_, err := h.svc.Process(context.Background(), notification("TX-tie", "recurring", domain.StatusSuccessful, 5000))
	require.NoError(t, err)
	_, err = h.svc.Process(context.Background(), notification("TX-old", "one_time", domain.StatusSuccessful, 5))
	require.NoError(t, err)

	h.link(t, "TX-old", 100, 1)
	h.clock.Advance(30 * 24 * time.Hour)

	stats, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Examined)
	assert.Nil(t, h.transaction(t, "TX-old").LoanID)
	assert.True(t, h.transaction(t, "TX-tie").NeedsReview)
}

func TestSweeperIgnoresNonProduction(t *testing.T) {
	h := newHarness(t)

	n := notification("TX-sbx", "one_time", domain.StatusSuccessful, 5)
	n.Environment = "sandbox"
	_, err := h.svc.Process(context.Background(), n)
	require.NoError(t, err)
	h.link(t, "TX-sbx", 100, 1)

	stats, err := h.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 0, stats.Resolved)
	assert.Nil(t, h.transaction(t, "TX-sbx").LoanID)
	testutil.AssertCount(t, h.db, "loan_ledger_events", 0)
}
