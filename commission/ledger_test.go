package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/memory"
)

func insertRecord(t *testing.T, store *memory.Store, customer, product string, saleDate time.Time, state commission.State, recurring bool) {
	t.Helper()
	require.NoError(t, store.InsertCommission(context.Background(), commission.Commission{
		ID:          commission.NewCommissionID(),
		AffiliateID: "AFF-1",
		SaleDate:    saleDate,
		Customer:    customer,
		Product:     product,
		SaleAmount:  d("100.00"),
		Rate:        d("0.10"),
		Amount:      d("10.00"),
		State:       state,
		IsRecurring: recurring,
		CreatedAt:   saleDate,
	}))
}

func TestSaleContextMonthlyCount(t *testing.T) {
	store := memory.New()
	ledger := commission.NewLedger(store)

	// Two sales this month, one last month, one reversed this month.
	insertRecord(t, store, "c1", "plan", testDate, commission.StatePendingValidation, false)
	insertRecord(t, store, "c2", "plan", testDate.AddDate(0, 0, 3), commission.StateApproved, false)
	insertRecord(t, store, "c3", "plan", testDate.AddDate(0, -1, 0), commission.StatePaid, false)
	insertRecord(t, store, "c4", "plan", testDate, commission.StateReversed, false)

	sc, err := ledger.SaleContext(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1", Customer: "c5", SaleDate: testDate.AddDate(0, 0, 5),
	})
	require.NoError(t, err)

	// The evaluated sale itself counts, plus the two live same-month sales.
	// Reversed and prior-month records do not.
	assert.Equal(t, 3, sc.MonthSaleCount)
	assert.False(t, sc.FirstSale)
}

func TestSaleContextFirstSaleIgnoresBonusRows(t *testing.T) {
	store := memory.New()
	ledger := commission.NewLedger(store)

	// Only a bonus record on file: the next real sale is still "first".
	insertRecord(t, store, "c1", commission.BonusProduct, testDate, commission.StatePendingValidation, false)

	sc, err := ledger.SaleContext(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1", Customer: "c1", SaleDate: testDate,
	})
	require.NoError(t, err)
	assert.True(t, sc.FirstSale)
	assert.Equal(t, 1, sc.MonthSaleCount)
}

func TestSaleContextRelationshipHistory(t *testing.T) {
	store := memory.New()
	ledger := commission.NewLedger(store)

	first := testDate.AddDate(0, -6, 0)
	insertRecord(t, store, "cust-x", "sub", first, commission.StatePaid, true)
	insertRecord(t, store, "cust-x", "sub", testDate.AddDate(0, -5, 0), commission.StatePaid, true)
	insertRecord(t, store, "cust-y", "plan", testDate.AddDate(0, -1, 0), commission.StatePaid, false)

	sc, err := ledger.SaleContext(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1", Customer: "cust-x", SaleDate: testDate, IsRenewal: true,
	})
	require.NoError(t, err)

	assert.True(t, sc.RelationshipStart.Equal(first), "earliest sale for the customer")
	assert.True(t, sc.PriorRenewal)

	// A different customer has no shared history.
	sc, err = ledger.SaleContext(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1", Customer: "cust-new", SaleDate: testDate, IsRenewal: true,
	})
	require.NoError(t, err)
	assert.True(t, sc.RelationshipStart.IsZero())
	assert.False(t, sc.PriorRenewal)
}

func TestSaleContextReversedRenewalForgotten(t *testing.T) {
	store := memory.New()
	ledger := commission.NewLedger(store)

	// The only renewal on file was reversed: the next renewal is treated
	// as a first payment again.
	insertRecord(t, store, "cust-x", "sub", testDate.AddDate(0, -2, 0), commission.StateReversed, true)

	sc, err := ledger.SaleContext(context.Background(), commission.SaleEvent{
		AffiliateID: "AFF-1", Customer: "cust-x", SaleDate: testDate, IsRenewal: true,
	})
	require.NoError(t, err)
	assert.False(t, sc.PriorRenewal)
	// The reversed sale still anchors the relationship start.
	assert.False(t, sc.RelationshipStart.IsZero())
}

func TestBonusGranted(t *testing.T) {
	store := memory.New()
	ledger := commission.NewLedger(store)

	granted, err := ledger.BonusGranted(context.Background(), "AFF-1")
	require.NoError(t, err)
	assert.False(t, granted)

	insertRecord(t, store, "c1", commission.BonusProduct, testDate, commission.StatePendingValidation, false)

	granted, err = ledger.BonusGranted(context.Background(), "AFF-1")
	require.NoError(t, err)
	assert.True(t, granted)
}
