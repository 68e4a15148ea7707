/*
ledger.go - Read-side queries over the commission ledger

PURPOSE:
  Derives the facts the evaluator and the aggregate need from raw records:
  monthly sale counts, first-sale detection, the affiliate-customer
  relationship history, and whether the one-time first-customer bonus was
  already granted. Everything here is a pure read; balance-like values are
  always recomputed from the ledger, never cached in mutable counters.
*/
package commission

import (
	"context"
	"time"
)

// BonusProduct marks the synthetic record carrying the one-time
// first-customer flat bonus. Bonus records are excluded from sale counts
// and relationship history.
const BonusProduct = "first_customer_bonus"

// Ledger provides read-side queries over a Store.
type Ledger struct {
	Store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// SaleContext derives the evaluator context for one sale event from the
// affiliate's existing records.
func (l *Ledger) SaleContext(ctx context.Context, sale SaleEvent) (SaleContext, error) {
	records, err := l.Store.ListCommissions(ctx, CommissionFilter{AffiliateID: &sale.AffiliateID})
	if err != nil {
		return SaleContext{}, err
	}

	sc := SaleContext{
		MonthSaleCount: 1, // the sale being evaluated counts toward the bonus
		FirstSale:      true,
	}
	for i := range records {
		r := &records[i]
		if r.Product == BonusProduct {
			continue
		}
		sc.FirstSale = false
		if r.State != StateReversed && sameMonth(r.SaleDate, sale.SaleDate) {
			sc.MonthSaleCount++
		}
		if r.Customer == sale.Customer {
			if sc.RelationshipStart.IsZero() || r.SaleDate.Before(sc.RelationshipStart) {
				sc.RelationshipStart = r.SaleDate
			}
			if r.IsRecurring && r.State != StateReversed {
				sc.PriorRenewal = true
			}
		}
	}
	return sc, nil
}

// BonusGranted reports whether the affiliate already received the one-time
// first-customer bonus.
func (l *Ledger) BonusGranted(ctx context.Context, id AffiliateID) (bool, error) {
	records, err := l.Store.ListCommissions(ctx, CommissionFilter{AffiliateID: &id})
	if err != nil {
		return false, err
	}
	for i := range records {
		if records[i].Product == BonusProduct {
			return true, nil
		}
	}
	return false, nil
}

// Summary recomputes the affiliate aggregate from the ledger. See aggregate.go.
func (l *Ledger) Summary(ctx context.Context, id AffiliateID) (Summary, error) {
	records, err := l.Store.ListCommissions(ctx, CommissionFilter{AffiliateID: &id})
	if err != nil {
		return Summary{}, err
	}
	return ComputeSummary(id, records), nil
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}
