/*
store.go - Persistence interfaces for the commission ledger

PURPOSE:
  Defines the interface between domain logic and the database. Different
  implementations can use SQLite or in-memory storage.

LEDGER CONTRACT:
  Commission records are never deleted and their financial fields
  (SaleAmount, Rate, Amount) are never rewritten. The only mutation is a
  state transition, applied as a compare-and-swap: UpdateState succeeds
  only if the record is still in the expected prior state. This is what
  makes concurrent operator actions, refund reversals and payout runs
  safe - the loser of any race observes ErrStateConflict instead of
  silently overwriting.

BATCH UNIQUENESS:
  InsertBatch claims every included commission id in the batch membership
  relation. A commission id can be claimed at most once across ALL batches
  ever created; implementations enforce this with a uniqueness constraint.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL)
  - store/memory: in-memory for tests and dev

SEE ALSO:
  - ledger.go: read-side queries built on Store
  - lifecycle.go: the only writers of commission state
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// CommissionFilter narrows ListCommissions. Nil fields match everything.
type CommissionFilter struct {
	AffiliateID *AffiliateID
	State       *State
	Flagged     *bool
}

// StateChange carries the fields a transition stamps onto the record.
// Zero fields are left untouched.
type StateChange struct {
	ApprovedAt      time.Time
	ReversedAt      time.Time
	PaymentDate     time.Time
	PayoutMethod    PayoutMethod
	PayoutReference string
}

// Store handles persistence of commissions, affiliates, rule sets and
// payment batches.
type Store interface {
	// InsertCommission persists a new record. The record is never deleted.
	InsertCommission(ctx context.Context, c Commission) error

	// GetCommission returns a record by id, or ErrCommissionNotFound.
	GetCommission(ctx context.Context, id CommissionID) (*Commission, error)

	// ListCommissions returns records matching the filter, ordered by
	// sale date ascending.
	ListCommissions(ctx context.Context, f CommissionFilter) ([]Commission, error)

	// UpdateState transitions a record from → to via compare-and-swap.
	// Returns ErrStateConflict when the record is no longer in from,
	// ErrCommissionNotFound when it doesn't exist. Clears ReviewReason
	// whenever the record leaves pending_validation.
	UpdateState(ctx context.Context, id CommissionID, from, to State, change StateChange) error

	// AppendReviewNote adds an operator annotation. State unchanged.
	AppendReviewNote(ctx context.Context, id CommissionID, note string) error

	// Affiliates
	SaveAffiliate(ctx context.Context, a Affiliate) error
	GetAffiliate(ctx context.Context, id AffiliateID) (*Affiliate, error)
	ListAffiliates(ctx context.Context) ([]Affiliate, error)

	// Rule sets, versioned; ActiveRuleSet returns the highest version.
	SaveRuleSet(ctx context.Context, r RuleSet) error
	ActiveRuleSet(ctx context.Context) (*RuleSet, error)

	// InsertBatch persists a payout run and claims its commission ids in
	// the batch membership relation. Fails if any id was ever claimed by a
	// previous batch.
	InsertBatch(ctx context.Context, b PaymentBatch) error

	// GetBatch returns a batch by id, or nil when absent.
	GetBatch(ctx context.Context, id BatchID) (*PaymentBatch, error)

	// GetBatchByKey returns the batch created under an idempotency key,
	// or nil when the key was never used.
	GetBatchByKey(ctx context.Context, idempotencyKey string) (*PaymentBatch, error)

	// ListBatches returns all batches, newest first.
	ListBatches(ctx context.Context) ([]PaymentBatch, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. Use for multi-write
// operations: recording a sale plus its bonus record, or a payout run
// claiming commissions and persisting the batch.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
