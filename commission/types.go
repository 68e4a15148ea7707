/*
Package commission provides the core commission ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for affiliate
  commissions: evaluating sale events against a rule set, driving each
  commission record through its validation/approval lifecycle, reversing
  refunded sales, and deriving affiliate totals from the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Commission: One ledger record per referred sale
  - Affiliate: A partner who refers paying customers
  - State: The commission lifecycle (pending_validation → approved → paid, reversed)
  - SaleEvent / SaleContext: Inputs to the evaluator
  - PaymentBatch: One payout run settling a set of approved commissions

DESIGN PRINCIPLES:
  1. Ledger is the source of truth: affiliate totals are always derived
     from commission records, never maintained as separate counters
  2. Precision: decimal.Decimal for every amount and rate, no floats
  3. Snapshotting: the applied rate and the validation/grace windows are
     frozen on the record at creation; rule changes never rewrite history
  4. Records are never deleted; corrections are reversals

SEE ALSO:
  - rules.go: Rule set (rates, bonuses, windows)
  - evaluator.go: Sale event → rate/amount/review flag
  - lifecycle.go: State machine and operator actions
  - aggregate.go: Derived affiliate totals
  - store.go: Persistence interfaces
*/
package commission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amounts and rates
// =============================================================================

// CurrencyPrecision is the number of decimal places for currency amounts.
const CurrencyPrecision = 2

// RoundCurrency rounds an amount to currency precision (half away from zero).
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPrecision)
}

// MustDecimal parses a decimal literal. Panics on malformed input, so it is
// only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("commission: bad decimal literal: " + s)
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CommissionID string
type AffiliateID string
type BatchID string

func NewCommissionID() CommissionID { return CommissionID("COM-" + uuid.NewString()) }
func NewAffiliateID() AffiliateID   { return AffiliateID("AFF-" + uuid.NewString()) }
func NewBatchID() BatchID           { return BatchID("PAY-" + uuid.NewString()) }

// =============================================================================
// AFFILIATE
// =============================================================================

// Tier is the affiliate rank determining the base commission rate.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Tiers lists all known tiers in ascending order.
var Tiers = []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return true
	}
	return false
}

// PayoutMethod is how an affiliate gets paid.
type PayoutMethod string

const (
	PayoutTransfer PayoutMethod = "transfer"
	PayoutPayPal   PayoutMethod = "paypal"
	PayoutStripe   PayoutMethod = "stripe"
	PayoutWire     PayoutMethod = "wire"
)

func (m PayoutMethod) Valid() bool {
	switch m {
	case PayoutTransfer, PayoutPayPal, PayoutStripe, PayoutWire:
		return true
	}
	return false
}

// Affiliate is a partner who refers paying customers.
// Totals (lifetime earned, pending payout, last payout) are NOT stored here;
// they are derived from commission records. See aggregate.go.
type Affiliate struct {
	ID                    AffiliateID
	Name                  string
	Email                 string
	Tier                  Tier
	PreferredPayoutMethod PayoutMethod
	CreatedAt             time.Time
}

// =============================================================================
// COMMISSION - One ledger record per referred sale
// =============================================================================

// State is the commission lifecycle state.
//
//	pending_validation → approved → paid
//	        └──────────────┴─────────┴──→ reversed (terminal)
type State string

const (
	StatePendingValidation State = "pending_validation"
	StateApproved          State = "approved"
	StatePaid              State = "paid"
	StateReversed          State = "reversed"
)

func (s State) Valid() bool {
	switch s {
	case StatePendingValidation, StateApproved, StatePaid, StateReversed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s,
// other than reversal.
func (s State) Terminal() bool { return s == StateReversed }

// Commission is one ledger record for one referred sale.
//
// IMMUTABLE FIELDS:
//   SaleAmount, Rate and Amount are frozen at creation. Rule set changes
//   apply only to commissions created afterwards.
//
// INVARIANT:
//   Amount == RoundCurrency(SaleAmount × Rate) at all times.
type Commission struct {
	ID          CommissionID
	AffiliateID AffiliateID

	SaleDate time.Time
	Customer string // referred customer
	Product  string // product or plan sold

	SaleAmount decimal.Decimal
	Rate       decimal.Decimal // 0–1, the rate actually applied (snapshotted)
	Amount     decimal.Decimal // RoundCurrency(SaleAmount × Rate)

	State       State
	IsRecurring bool

	// Review flagging (present iff State == pending_validation and flagged).
	ReviewReason string
	ReviewNotes  []string

	// Windows snapshotted from the rule set active at creation.
	ValidationDays int
	GraceDays      int
	RuleSetVersion int

	// Payment fields (present iff State == paid).
	PaymentDate     time.Time
	PayoutMethod    PayoutMethod
	PayoutReference string

	ApprovedAt time.Time // set on pending_validation → approved
	ReversedAt time.Time // set on → reversed

	CreatedAt time.Time
}

// Flagged reports whether the record requires manual review.
// Flagged records never auto-approve.
func (c *Commission) Flagged() bool { return c.ReviewReason != "" }

// AutoApproveDue reports whether the validation period has elapsed and the
// record is eligible for automatic approval.
func (c *Commission) AutoApproveDue(now time.Time) bool {
	if c.State != StatePendingValidation || c.Flagged() {
		return false
	}
	return !now.Before(c.SaleDate.AddDate(0, 0, c.ValidationDays))
}

// WithinGrace reports whether a refund on refundDate can still reverse the
// commission under the snapshotted grace window.
func (c *Commission) WithinGrace(refundDate time.Time) bool {
	return !refundDate.After(c.SaleDate.AddDate(0, 0, c.GraceDays))
}

// =============================================================================
// SALE EVENT - Evaluator input
// =============================================================================

// SaleEvent is one referred sale as reported by the surrounding system.
type SaleEvent struct {
	AffiliateID AffiliateID
	Customer    string
	Product     string
	SaleAmount  decimal.Decimal
	SaleDate    time.Time

	// IsRenewal marks a recurring subscription renewal (not the first payment).
	IsRenewal bool

	// HighRisk is an external fraud signal. Consumed here, never computed.
	HighRisk bool
}

// SaleContext carries the ledger-derived facts the evaluator needs.
// It is computed by the Ledger (see ledger.go) so Evaluate stays pure.
type SaleContext struct {
	// MonthSaleCount is the affiliate's sale count in the sale's calendar
	// month, including this sale.
	MonthSaleCount int

	// FirstSale is true when this is the affiliate's first-ever sale.
	FirstSale bool

	// RelationshipStart is the affiliate's first sale date for this customer.
	// Zero when there is no prior relationship.
	RelationshipStart time.Time

	// PriorRenewal is true when the affiliate already earned a renewal
	// commission for this customer.
	PriorRenewal bool
}

// Evaluation is the evaluator's output for one sale event.
type Evaluation struct {
	Rate   decimal.Decimal
	Amount decimal.Decimal

	// ReviewReason forces the record to stay in pending_validation until an
	// operator resolves it. Empty means eligible for auto-approval.
	ReviewReason string

	// Skip means no commission is generated (renewal outside the recurring
	// duration window). Not an error.
	Skip bool
}

// =============================================================================
// PAYMENT BATCH - One payout run
// =============================================================================

// BatchStatus is the settlement status of a payout run.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPending   BatchStatus = "pending"
	BatchFailed    BatchStatus = "failed"
)

// PayoutLine is one affiliate's share of a payment batch.
type PayoutLine struct {
	AffiliateID   AffiliateID
	Amount        decimal.Decimal
	CommissionIDs []CommissionID
}

// PaymentBatch is one payout run. Batches are immutable historical records:
// a later clawback adjusts the affiliate aggregate, never the batch.
//
// INVARIANTS:
//   - TotalAmount == Σ line.Amount == Σ amount of included commissions
//   - Every included commission id appears in exactly one batch, ever
type PaymentBatch struct {
	ID             BatchID
	RunDate        time.Time
	PayoutMethod   PayoutMethod
	Reference      string
	Status         BatchStatus
	IdempotencyKey string
	Lines          []PayoutLine
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
}

// CommissionIDs returns every commission id included in the batch.
func (b *PaymentBatch) CommissionIDs() []CommissionID {
	var ids []CommissionID
	for _, line := range b.Lines {
		ids = append(ids, line.CommissionIDs...)
	}
	return ids
}
