/*
lifecycle.go - Validation/approval state machine and operator actions

PURPOSE:
  Owns every mutation of a commission record. Records are created in
  pending_validation by RecordSale and only ever move along:

    pending_validation → approved → paid       (paid via the payout batcher only)
    pending_validation | approved | paid → reversed

  Any other transition fails with InvalidTransition and changes nothing.

CAPABILITIES:
  Approve / Reject / RequestMoreInfo  - operator actions
  Reverse                             - refund-driven reversal policy
  AutoApproveSweep                    - validation-period expiry
  approved → paid                     - payout batcher only (see payout package)

CONCURRENCY:
  Every transition is a compare-and-swap on the stored state. Two operators
  approving the same record concurrently cannot double-trigger side effects:
  the second CAS observes the new state and fails with InvalidTransition.
  The sweep only acts on records still in pending_validation, so it is safe
  to run alongside manual approvals.

SEE ALSO:
  - evaluator.go: pure rate/amount computation
  - payout/batcher.go: the only approved → paid writer
*/
package commission

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - The serialized mutation path
// =============================================================================

// Service drives commission records through their lifecycle.
type Service struct {
	Store  TxStore
	Logger *zap.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func NewService(store TxStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, Logger: logger, Now: time.Now}
}

// =============================================================================
// RECORD SALE - Evaluator + record creation
// =============================================================================

// RecordSale evaluates a sale event and creates the commission record in
// pending_validation. A renewal outside the recurring duration window
// creates nothing and returns an empty id with no error.
//
// The affiliate's first commission-generating sale also grants the one-time
// first-customer bonus as a separate record (SaleAmount = bonus, Rate = 1),
// so the amount invariant holds for every row in the ledger.
func (s *Service) RecordSale(ctx context.Context, sale SaleEvent) (CommissionID, error) {
	affiliate, err := s.Store.GetAffiliate(ctx, sale.AffiliateID)
	if err != nil {
		return "", err
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = s.Now().UTC()
	}

	var id CommissionID
	err = s.Store.WithTx(ctx, func(tx Store) error {
		rules, err := tx.ActiveRuleSet(ctx)
		if err != nil {
			return err
		}

		ledger := NewLedger(tx)
		sctx, err := ledger.SaleContext(ctx, sale)
		if err != nil {
			return err
		}

		eval, err := Evaluate(sale, affiliate.Tier, rules, sctx)
		if err != nil {
			return err
		}
		if eval.Skip {
			s.Logger.Info("renewal outside recurring window, no commission",
				zap.String("affiliate", string(sale.AffiliateID)),
				zap.String("customer", sale.Customer))
			return nil
		}

		now := s.Now().UTC()
		record := Commission{
			ID:             NewCommissionID(),
			AffiliateID:    sale.AffiliateID,
			SaleDate:       sale.SaleDate,
			Customer:       sale.Customer,
			Product:        sale.Product,
			SaleAmount:     sale.SaleAmount,
			Rate:           eval.Rate,
			Amount:         eval.Amount,
			State:          StatePendingValidation,
			IsRecurring:    sale.IsRenewal,
			ReviewReason:   eval.ReviewReason,
			ValidationDays: rules.ValidationPeriodDays,
			GraceDays:      rules.GracePeriodDays,
			RuleSetVersion: rules.Version,
			CreatedAt:      now,
		}
		if err := tx.InsertCommission(ctx, record); err != nil {
			return err
		}
		id = record.ID

		if sctx.FirstSale && rules.FirstCustomerBonus.IsPositive() {
			granted, err := ledger.BonusGranted(ctx, sale.AffiliateID)
			if err != nil {
				return err
			}
			if !granted {
				bonus := Commission{
					ID:             NewCommissionID(),
					AffiliateID:    sale.AffiliateID,
					SaleDate:       sale.SaleDate,
					Customer:       sale.Customer,
					Product:        BonusProduct,
					SaleAmount:     rules.FirstCustomerBonus,
					Rate:           MustDecimal("1"),
					Amount:         RoundCurrency(rules.FirstCustomerBonus),
					State:          StatePendingValidation,
					ValidationDays: rules.ValidationPeriodDays,
					GraceDays:      rules.GracePeriodDays,
					RuleSetVersion: rules.Version,
					CreatedAt:      now,
				}
				if err := tx.InsertCommission(ctx, bonus); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if id != "" {
		s.Logger.Info("commission recorded",
			zap.String("commission", string(id)),
			zap.String("affiliate", string(sale.AffiliateID)))
	}
	return id, nil
}

// =============================================================================
// OPERATOR ACTIONS
// =============================================================================

// Approve moves a pending commission to approved.
func (s *Service) Approve(ctx context.Context, id CommissionID, operator string) error {
	change := StateChange{ApprovedAt: s.Now().UTC()}
	if err := s.transition(ctx, id, StatePendingValidation, StateApproved, change); err != nil {
		return err
	}
	s.Logger.Info("commission approved",
		zap.String("commission", string(id)), zap.String("operator", operator))
	return nil
}

// Reject moves a pending commission to reversed.
func (s *Service) Reject(ctx context.Context, id CommissionID, operator string) error {
	change := StateChange{ReversedAt: s.Now().UTC()}
	if err := s.transition(ctx, id, StatePendingValidation, StateReversed, change); err != nil {
		return err
	}
	s.Logger.Info("commission rejected",
		zap.String("commission", string(id)), zap.String("operator", operator))
	return nil
}

// RequestMoreInfo annotates a flagged pending commission. State unchanged.
func (s *Service) RequestMoreInfo(ctx context.Context, id CommissionID, note string) error {
	record, err := s.Store.GetCommission(ctx, id)
	if err != nil {
		return err
	}
	if record.State != StatePendingValidation {
		return &InvalidTransitionError{CommissionID: id, From: record.State, To: StatePendingValidation}
	}
	return s.Store.AppendReviewNote(ctx, id, note)
}

// =============================================================================
// REVERSAL POLICY
// =============================================================================

// Reverse applies the refund reversal policy.
//
// A still-pending commission is reversible unconditionally (nothing was
// truly earned yet). Approved and paid commissions are reversible only
// within the snapshotted grace window; outside it the call fails with
// GracePeriodExpired and the record is untouched. A reversed paid
// commission does NOT rewrite its payment batch - batches are immutable
// history, and the clawback surfaces through the affiliate aggregate.
func (s *Service) Reverse(ctx context.Context, id CommissionID, refundDate time.Time) error {
	record, err := s.Store.GetCommission(ctx, id)
	if err != nil {
		return err
	}
	if record.State == StateReversed {
		return &InvalidTransitionError{CommissionID: id, From: StateReversed, To: StateReversed}
	}
	if record.State != StatePendingValidation && !record.WithinGrace(refundDate) {
		return &GracePeriodError{
			CommissionID: id,
			SaleDate:     record.SaleDate,
			RefundDate:   refundDate,
			GraceDays:    record.GraceDays,
		}
	}

	change := StateChange{ReversedAt: refundDate.UTC()}
	if err := s.casTransition(ctx, id, record.State, StateReversed, change); err != nil {
		return err
	}
	s.Logger.Info("commission reversed",
		zap.String("commission", string(id)),
		zap.String("from", string(record.State)),
		zap.Time("refund_date", refundDate))
	return nil
}

// =============================================================================
// AUTO-APPROVAL SWEEP
// =============================================================================

// AutoApproveSweep promotes every unflagged pending commission whose
// validation period elapsed as of asOf. Safe to run concurrently with
// manual approvals: a record resolved in the meantime just loses the CAS
// and is skipped.
func (s *Service) AutoApproveSweep(ctx context.Context, asOf time.Time) (int, error) {
	pending := StatePendingValidation
	records, err := s.Store.ListCommissions(ctx, CommissionFilter{State: &pending})
	if err != nil {
		return 0, err
	}

	approved := 0
	for i := range records {
		if ctx.Err() != nil {
			return approved, ctx.Err()
		}
		r := &records[i]
		if !r.AutoApproveDue(asOf) {
			continue
		}
		change := StateChange{ApprovedAt: asOf.UTC()}
		err := s.Store.UpdateState(ctx, r.ID, StatePendingValidation, StateApproved, change)
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrCommissionNotFound) {
			continue // resolved concurrently
		}
		if err != nil {
			return approved, err
		}
		approved++
	}
	if approved > 0 {
		s.Logger.Info("auto-approval sweep", zap.Int("approved", approved), zap.Time("as_of", asOf))
	}
	return approved, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary recomputes the affiliate aggregate from the ledger.
func (s *Service) Summary(ctx context.Context, id AffiliateID) (Summary, error) {
	if _, err := s.Store.GetAffiliate(ctx, id); err != nil {
		return Summary{}, err
	}
	return NewLedger(s.Store).Summary(ctx, id)
}

// =============================================================================
// INTERNAL TRANSITION HELPERS
// =============================================================================

// transition runs a CAS transition and converts a miss into a precise
// InvalidTransition carrying the state actually observed.
func (s *Service) transition(ctx context.Context, id CommissionID, from, to State, change StateChange) error {
	if _, err := s.Store.GetCommission(ctx, id); err != nil {
		return err
	}
	return s.casTransition(ctx, id, from, to, change)
}

func (s *Service) casTransition(ctx context.Context, id CommissionID, from, to State, change StateChange) error {
	err := s.Store.UpdateState(ctx, id, from, to, change)
	if errors.Is(err, ErrStateConflict) {
		current, getErr := s.Store.GetCommission(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &InvalidTransitionError{CommissionID: id, From: current.State, To: to}
	}
	return err
}
