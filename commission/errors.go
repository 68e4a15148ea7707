/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error kinds in one place. Nothing here is fatal to the process:
  every error is an expected business condition with a defined
  caller-visible outcome, and no error ever leaves a partial mutation
  behind.

ERROR CATEGORIES:
  1. Evaluation errors - Rejected sale events
  2. Lifecycle errors - Disallowed state transitions
  3. Batch errors - Payout run failures and idempotent replays
  4. Store errors - Missing records, conflicting concurrent writes

USAGE:
  Callers match with errors.Is:

    if errors.Is(err, commission.ErrGracePeriodExpired) {
        // refund arrived too late, commission untouched
    }
*/
package commission

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSaleAmount is returned for a zero or negative sale amount.
	ErrInvalidSaleAmount = errors.New("invalid sale amount")

	// ErrUnknownTier is returned when an affiliate carries a tier the rule
	// set has no base rate for.
	ErrUnknownTier = errors.New("unknown affiliate tier")

	// ErrInvalidTransition is returned for any state transition the
	// lifecycle does not list. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGracePeriodExpired is returned when a refund arrives after the
	// snapshotted grace window. The commission is left untouched; the
	// business accepts the loss of recoverability outside the window.
	ErrGracePeriodExpired = errors.New("grace period expired")

	// ErrBatchPartialFailure is returned when an external payout call fails
	// mid-batch. The whole run is rolled back, never partially committed.
	ErrBatchPartialFailure = errors.New("payout batch failed, run rolled back")

	// ErrDuplicateBatchRun is returned on idempotency-key replay. The prior
	// batch is returned alongside instead of re-processing.
	ErrDuplicateBatchRun = errors.New("duplicate batch run")

	// ErrCommissionNotFound is returned when a referenced commission doesn't exist.
	ErrCommissionNotFound = errors.New("commission not found")

	// ErrAffiliateNotFound is returned when a referenced affiliate doesn't exist.
	ErrAffiliateNotFound = errors.New("affiliate not found")

	// ErrStateConflict is returned by the store when a compare-and-swap
	// state update observes a different current state than expected.
	ErrStateConflict = errors.New("commission state changed concurrently")

	// ErrRuleSetInvalid is returned for a rule set that fails validation.
	ErrRuleSetInvalid = errors.New("invalid rule set")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTransitionError reports a disallowed lifecycle transition.
type InvalidTransitionError struct {
	CommissionID CommissionID
	From         State
	To           State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s → %s for %s", e.From, e.To, e.CommissionID)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// GracePeriodError reports a refund outside the grace window.
type GracePeriodError struct {
	CommissionID CommissionID
	SaleDate     time.Time
	RefundDate   time.Time
	GraceDays    int
}

func (e *GracePeriodError) Error() string {
	return fmt.Sprintf("refund of %s on %s is outside the %d-day grace window (sale %s)",
		e.CommissionID, e.RefundDate.Format("2006-01-02"), e.GraceDays, e.SaleDate.Format("2006-01-02"))
}

func (e *GracePeriodError) Unwrap() error { return ErrGracePeriodExpired }

// DuplicateBatchRunError reports an idempotency-key replay and carries the
// prior batch id so callers can return it without re-processing.
type DuplicateBatchRunError struct {
	IdempotencyKey string
	BatchID        BatchID
}

func (e *DuplicateBatchRunError) Error() string {
	return fmt.Sprintf("batch run with key %q already processed as %s", e.IdempotencyKey, e.BatchID)
}

func (e *DuplicateBatchRunError) Unwrap() error { return ErrDuplicateBatchRun }

// BatchFailureError reports which payout call sank the run.
type BatchFailureError struct {
	AffiliateID AffiliateID
	Cause       error
}

func (e *BatchFailureError) Error() string {
	return fmt.Sprintf("payout to %s failed: %v", e.AffiliateID, e.Cause)
}

func (e *BatchFailureError) Unwrap() error { return ErrBatchPartialFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSaleAmount) ||
		errors.Is(err, ErrUnknownTier) ||
		errors.Is(err, ErrRuleSetInvalid)
}

// IsConflict returns true if the error reflects a state the caller must
// re-read before retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrGracePeriodExpired)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCommissionNotFound) ||
		errors.Is(err, ErrAffiliateNotFound)
}
