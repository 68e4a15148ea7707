package commission_test

import (
	"testing"
	"time"

	"github.com/warp/commission-engine/commission"
)

func record(state commission.State, amount string) commission.Commission {
	return commission.Commission{
		ID:          commission.NewCommissionID(),
		AffiliateID: "AFF-agg",
		Amount:      d(amount),
		State:       state,
	}
}

func TestComputeSummaryPerState(t *testing.T) {
	paidEarly := record(commission.StatePaid, "40.00")
	paidEarly.PaymentDate = time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	paidLate := record(commission.StatePaid, "60.00")
	paidLate.PaymentDate = time.Date(2026, time.February, 5, 0, 0, 0, 0, time.UTC)

	records := []commission.Commission{
		record(commission.StatePendingValidation, "10.00"),
		record(commission.StateApproved, "25.00"),
		paidEarly,
		paidLate,
		record(commission.StateReversed, "999.00"), // must not count anywhere
	}

	s := commission.ComputeSummary("AFF-agg", records)

	// lifetime = approved + paid
	if !s.LifetimeEarned.Equal(d("125.00")) {
		t.Errorf("lifetime = %s, want 125.00", s.LifetimeEarned)
	}
	// pending payout = pending + approved
	if !s.PendingPayout.Equal(d("35.00")) {
		t.Errorf("pending = %s, want 35.00", s.PendingPayout)
	}
	// last payout = max payment date among paid
	if !s.LastPayoutDate.Equal(paidLate.PaymentDate) {
		t.Errorf("last payout = %s, want %s", s.LastPayoutDate, paidLate.PaymentDate)
	}
}

func TestComputeSummaryEmptyLedger(t *testing.T) {
	s := commission.ComputeSummary("AFF-empty", nil)
	if !s.LifetimeEarned.IsZero() || !s.PendingPayout.IsZero() {
		t.Error("empty ledger must yield zero totals")
	}
	if !s.LastPayoutDate.IsZero() {
		t.Error("empty ledger must have no last payout date")
	}
}
