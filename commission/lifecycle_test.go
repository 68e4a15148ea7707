/*
lifecycle_test.go - Lifecycle service tests against the in-memory store

Covers the full record lifecycle: sale recording with rule snapshots,
the one-time first-customer bonus, the auto-approval sweep, operator
actions, and the refund reversal policy.
*/
package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/memory"
)

func newTestService(t *testing.T) (*commission.Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveRuleSet(ctx, *commission.DefaultRuleSet()))
	require.NoError(t, store.SaveAffiliate(ctx, commission.Affiliate{
		ID:                    "AFF-1",
		Name:                  "Test Affiliate",
		Email:                 "aff@example.com",
		Tier:                  commission.TierGold,
		PreferredPayoutMethod: commission.PayoutTransfer,
		CreatedAt:             testDate,
	}))
	svc := commission.NewService(store, zap.NewNop())
	svc.Now = func() time.Time { return testDate }
	return svc, store
}

func recordTestSale(t *testing.T, svc *commission.Service, customer, amount string, date time.Time) commission.CommissionID {
	t.Helper()
	id, err := svc.RecordSale(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1",
		Customer:    customer,
		Product:     "pro_plan",
		SaleAmount:  d(amount),
		SaleDate:    date,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

// =============================================================================
// RECORD SALE
// =============================================================================

func TestRecordSaleSnapshotsRuleTerms(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)

	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, commission.StatePendingValidation, rec.State)
	assert.True(t, rec.Rate.Equal(d("0.15")), "gold base rate")
	assert.True(t, rec.Amount.Equal(d("30.00")))
	assert.Equal(t, 7, rec.ValidationDays)
	assert.Equal(t, 30, rec.GraceDays)
	assert.Equal(t, 1, rec.RuleSetVersion)
	assert.Equal(t, commission.ReasonFirstSale, rec.ReviewReason, "first-ever sale is flagged")
}

func TestRecordSaleKeepsSnapshotAcrossRuleChange(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)

	// Publish harsher terms after the sale.
	v2 := commission.DefaultRuleSet()
	v2.Version = 2
	v2.BaseRateByTier[commission.TierGold] = d("0.05")
	v2.ValidationPeriodDays = 30
	require.NoError(t, store.SaveRuleSet(ctx, *v2))

	// The existing record keeps its original terms.
	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Rate.Equal(d("0.15")))
	assert.Equal(t, 7, rec.ValidationDays)
	assert.Equal(t, 1, rec.RuleSetVersion)

	// A new sale picks up version 2.
	id2 := recordTestSale(t, svc, "cust-2", "200.00", testDate)
	rec2, err := store.GetCommission(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, 2, rec2.RuleSetVersion)
	assert.True(t, rec2.Rate.Equal(d("0.05")))
}

func TestFirstCustomerBonusGrantedOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	recordTestSale(t, svc, "cust-1", "200.00", testDate)
	recordTestSale(t, svc, "cust-2", "300.00", testDate)

	all, err := store.ListCommissions(ctx, commission.CommissionFilter{})
	require.NoError(t, err)

	var bonuses []commission.Commission
	for _, c := range all {
		if c.Product == commission.BonusProduct {
			bonuses = append(bonuses, c)
		}
	}
	require.Len(t, bonuses, 1, "bonus is one-time per affiliate")
	assert.True(t, bonuses[0].Amount.Equal(d("50.00")))
	assert.True(t, bonuses[0].Rate.Equal(d("1")), "amount invariant holds for the bonus row")
	assert.Empty(t, bonuses[0].ReviewReason, "the bonus itself is not flagged")
}

func TestRecordSaleUnknownAffiliate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordSale(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-ghost",
		Customer:    "cust-1",
		SaleAmount:  d("100.00"),
		SaleDate:    testDate,
	})
	assert.ErrorIs(t, err, commission.ErrAffiliateNotFound)
}

func TestRenewalOutsideWindowCreatesNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rules := commission.DefaultRuleSet()
	rules.Version = 2
	rules.Recurring.Duration = commission.Duration12Months
	require.NoError(t, store.SaveRuleSet(ctx, *rules))

	// Relationship started 13 months before the renewal.
	start := testDate.AddDate(0, -13, 0)
	recordTestSale(t, svc, "cust-old", "99.00", start)

	before, err := store.ListCommissions(ctx, commission.CommissionFilter{})
	require.NoError(t, err)

	id, err := svc.RecordSale(ctx, commission.SaleEvent{
		AffiliateID: "AFF-1",
		Customer:    "cust-old",
		Product:     "saas_subscription",
		SaleAmount:  d("99.00"),
		SaleDate:    testDate,
		IsRenewal:   true,
	})
	require.NoError(t, err, "an expired window is not an error")
	assert.Empty(t, id)

	after, err := store.ListCommissions(ctx, commission.CommissionFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before), "no record of any kind is created")
}

// =============================================================================
// AUTO-APPROVAL SWEEP
// =============================================================================

func TestAutoApproveSweep(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Sale 1 is the first ever, so it lands flagged. Its bonus does not.
	flaggedID := recordTestSale(t, svc, "cust-1", "200.00", testDate)
	// Sale 2 is clean.
	cleanID := recordTestSale(t, svc, "cust-2", "100.00", testDate)

	// Before the validation window elapses, nothing moves.
	n, err := svc.AutoApproveSweep(ctx, testDate.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Zero(t, n)

	// After 7 days the clean sale and the bonus auto-approve.
	n, err = svc.AutoApproveSweep(ctx, testDate.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clean, err := store.GetCommission(ctx, cleanID)
	require.NoError(t, err)
	assert.Equal(t, commission.StateApproved, clean.State)
	assert.False(t, clean.ApprovedAt.IsZero())

	// The flagged record waits for an operator no matter how long.
	n, err = svc.AutoApproveSweep(ctx, testDate.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, n)

	flagged, err := store.GetCommission(ctx, flaggedID)
	require.NoError(t, err)
	assert.Equal(t, commission.StatePendingValidation, flagged.State)
}

// =============================================================================
// OPERATOR ACTIONS
// =============================================================================

func TestApproveThenApproveAgainConflicts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)

	require.NoError(t, svc.Approve(ctx, id, "ops"))
	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StateApproved, rec.State)
	assert.Empty(t, rec.ReviewReason, "approval clears the review flag")

	err = svc.Approve(ctx, id, "ops")
	assert.ErrorIs(t, err, commission.ErrInvalidTransition)
	assert.True(t, commission.IsConflict(err))
}

func TestRejectMovesToReversed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)
	require.NoError(t, svc.Reject(ctx, id, "ops"))

	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StateReversed, rec.State)
	assert.False(t, rec.ReversedAt.IsZero())

	// Terminal: nothing moves it again.
	assert.ErrorIs(t, svc.Approve(ctx, id, "ops"), commission.ErrInvalidTransition)
}

func TestRequestMoreInfoAppendsNotes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)

	require.NoError(t, svc.RequestMoreInfo(ctx, id, "ops: need the invoice"))
	require.NoError(t, svc.RequestMoreInfo(ctx, id, "ops: still waiting"))

	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StatePendingValidation, rec.State, "state is unchanged")
	assert.Equal(t, []string{"ops: need the invoice", "ops: still waiting"}, rec.ReviewNotes)

	// Once resolved, no further notes.
	require.NoError(t, svc.Approve(ctx, id, "ops"))
	err = svc.RequestMoreInfo(ctx, id, "too late")
	assert.ErrorIs(t, err, commission.ErrInvalidTransition)
}

func TestOperatorActionOnMissingCommission(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Approve(context.Background(), "COM-ghost", "ops")
	assert.ErrorIs(t, err, commission.ErrCommissionNotFound)
}

// =============================================================================
// REVERSALS
// =============================================================================

func TestReversePendingIsUnconditional(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)

	// Refund far past the grace window still reverses a pending record.
	require.NoError(t, svc.Reverse(ctx, id, testDate.AddDate(1, 0, 0)))

	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StateReversed, rec.State)
}

func TestReverseApprovedRespectsGraceWindow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)
	require.NoError(t, svc.Approve(ctx, id, "ops"))

	// Day 31: outside the 30-day window, record untouched.
	err := svc.Reverse(ctx, id, testDate.AddDate(0, 0, 31))
	assert.ErrorIs(t, err, commission.ErrGracePeriodExpired)

	var gpe *commission.GracePeriodError
	require.ErrorAs(t, err, &gpe)
	assert.Equal(t, 30, gpe.GraceDays)

	rec, err := store.GetCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commission.StateApproved, rec.State)

	// Day 30: boundary is inclusive.
	require.NoError(t, svc.Reverse(ctx, id, testDate.AddDate(0, 0, 30)))
}

func TestReversePaidExcludesFromAggregate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)
	require.NoError(t, svc.Approve(ctx, id, "ops"))

	// Mark paid the way a batch run would.
	payDate := testDate.AddDate(0, 0, 10)
	require.NoError(t, store.UpdateState(ctx, id, commission.StateApproved, commission.StatePaid,
		commission.StateChange{PaymentDate: payDate, PayoutMethod: commission.PayoutTransfer, PayoutReference: "BATCH-TEST00001"}))

	require.NoError(t, svc.Reverse(ctx, id, testDate.AddDate(0, 0, 20)))

	summary, err := svc.Summary(ctx, "AFF-1")
	require.NoError(t, err)
	// Only the (still pending) first-customer bonus remains.
	assert.True(t, summary.PendingPayout.Equal(d("50.00")), "pending = %s", summary.PendingPayout)
	assert.True(t, summary.LifetimeEarned.IsZero(), "reversed paid record contributes nothing")
}

func TestReverseTwiceConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := recordTestSale(t, svc, "cust-1", "200.00", testDate)
	require.NoError(t, svc.Reverse(ctx, id, testDate))

	err := svc.Reverse(ctx, id, testDate)
	assert.ErrorIs(t, err, commission.ErrInvalidTransition)
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSummaryReconcilesWithLedger(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id1 := recordTestSale(t, svc, "cust-1", "200.00", testDate) // flagged, stays pending: 30.00
	id2 := recordTestSale(t, svc, "cust-2", "100.00", testDate) // 15.00
	require.NoError(t, svc.Approve(ctx, id1, "ops"))
	require.NoError(t, svc.Approve(ctx, id2, "ops"))

	payDate := testDate.AddDate(0, 0, 10)
	require.NoError(t, store.UpdateState(ctx, id2, commission.StateApproved, commission.StatePaid,
		commission.StateChange{PaymentDate: payDate, PayoutMethod: commission.PayoutTransfer, PayoutReference: "BATCH-TEST00002"}))

	summary, err := svc.Summary(ctx, "AFF-1")
	require.NoError(t, err)

	// approved (30) + paid (15); the pending bonus (50) is not yet earned
	assert.True(t, summary.LifetimeEarned.Equal(d("45.00")), "lifetime = %s", summary.LifetimeEarned)
	// pending bonus (50) + approved (30)
	assert.True(t, summary.PendingPayout.Equal(d("80.00")), "pending = %s", summary.PendingPayout)
	assert.True(t, summary.LastPayoutDate.Equal(payDate))
}

func TestSummaryUnknownAffiliate(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Summary(context.Background(), "AFF-ghost")
	assert.True(t, errors.Is(err, commission.ErrAffiliateNotFound))
}
