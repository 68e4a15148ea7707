package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AFFILIATE AGGREGATE - Derived rolling totals
// =============================================================================

// Summary is the derived aggregate for one affiliate. It is recomputed from
// the commission records (the ledger is the source of truth) and must always
// reconcile with them:
//
//	LifetimeEarned == Σ amount where state ∈ {approved, paid}
//	PendingPayout  == Σ amount where state ∈ {pending_validation, approved}
//	LastPayoutDate == max(payment date) where state = paid
type Summary struct {
	AffiliateID    AffiliateID
	LifetimeEarned decimal.Decimal
	PendingPayout  decimal.Decimal
	LastPayoutDate time.Time // zero when never paid
}

// ComputeSummary recomputes the aggregate from one affiliate's records.
// Pure function: callers own the record set (typically one affiliate's full
// ledger slice).
func ComputeSummary(id AffiliateID, records []Commission) Summary {
	s := Summary{
		AffiliateID:    id,
		LifetimeEarned: decimal.Zero,
		PendingPayout:  decimal.Zero,
	}
	for i := range records {
		r := &records[i]
		switch r.State {
		case StatePendingValidation:
			s.PendingPayout = s.PendingPayout.Add(r.Amount)
		case StateApproved:
			s.LifetimeEarned = s.LifetimeEarned.Add(r.Amount)
			s.PendingPayout = s.PendingPayout.Add(r.Amount)
		case StatePaid:
			s.LifetimeEarned = s.LifetimeEarned.Add(r.Amount)
			if r.PaymentDate.After(s.LastPayoutDate) {
				s.LastPayoutDate = r.PaymentDate
			}
		case StateReversed:
			// contributes nothing
		}
	}
	return s
}
