/*
Package payout implements the payout batcher.

PURPOSE:
  Sweeps approved commissions into one PaymentBatch per run: selects a
  snapshot of approved records as of a date, groups them by affiliate,
  pays each group over the payout rail, and atomically flips the included
  commissions to paid.

ATOMICITY:
  The whole run executes inside one store transaction. Either every
  selected commission becomes paid and the batch is persisted, or nothing
  changes. A payout-rail failure for any affiliate rolls the entire run
  back and surfaces BatchPartialFailure.

IDEMPOTENCY:
  Every run carries an idempotency key. Re-running with the same key
  returns the previously created batch (DuplicateBatchRun) instead of
  double-paying.

RACES:
  Each approved → paid flip is a compare-and-swap. A commission reversed
  by a concurrent refund loses its CAS and is silently excluded from the
  batch - the reversal won, the batcher never overwrites it.

CANCELLATION:
  Context cancellation mid-run stops the batcher from selecting further
  affiliate groups. Groups already claimed in the current run still commit
  with the batch; there is no partial per-group state.

SEE ALSO:
  - commission/lifecycle.go: every other state transition
  - commission/store.go: UpdateState CAS and batch-uniqueness contract
*/
package payout

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// PAYOUT RAIL - External funds movement (collaborator, not implemented here)
// =============================================================================

// Rail moves the actual funds. The engine only decides what to pay and
// records the decision.
type Rail interface {
	// Pay sends one affiliate's payout line. An error fails the whole run.
	Pay(ctx context.Context, affiliate commission.Affiliate, line commission.PayoutLine, reference string) error
}

// NopRail accepts every payout. Used in dev and tests.
type NopRail struct{}

func (NopRail) Pay(context.Context, commission.Affiliate, commission.PayoutLine, string) error {
	return nil
}

// =============================================================================
// BATCHER
// =============================================================================

// Batcher runs payout sweeps over approved commissions.
type Batcher struct {
	Store  commission.TxStore
	Rail   Rail
	Logger *zap.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func NewBatcher(store commission.TxStore, rail Rail, logger *zap.Logger) *Batcher {
	if rail == nil {
		rail = NopRail{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{Store: store, Rail: rail, Logger: logger, Now: time.Now}
}

// Run executes one payout sweep.
//
// Selects every commission approved as of asOf (snapshot: later approvals
// are excluded even if the run takes time), groups by affiliate, pays each
// non-empty group, and flips the included commissions to paid with the same
// payment date and reference. Returns the created batch, or the prior batch
// plus DuplicateBatchRun on idempotency-key replay.
func (b *Batcher) Run(ctx context.Context, method commission.PayoutMethod, asOf time.Time, idempotencyKey string) (*commission.PaymentBatch, error) {
	if prior, err := b.Store.GetBatchByKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, &commission.DuplicateBatchRunError{IdempotencyKey: idempotencyKey, BatchID: prior.ID}
	}

	var batch *commission.PaymentBatch
	err := b.Store.WithTx(ctx, func(tx commission.Store) error {
		// Authoritative replay check, now under the transaction.
		if prior, err := tx.GetBatchByKey(ctx, idempotencyKey); err != nil {
			return err
		} else if prior != nil {
			batch = prior
			return &commission.DuplicateBatchRunError{IdempotencyKey: idempotencyKey, BatchID: prior.ID}
		}

		approved := commission.StateApproved
		records, err := tx.ListCommissions(ctx, commission.CommissionFilter{State: &approved})
		if err != nil {
			return err
		}

		groups := make(map[commission.AffiliateID][]commission.Commission)
		for i := range records {
			r := records[i]
			if r.ApprovedAt.After(asOf) {
				continue // approved after the snapshot
			}
			groups[r.AffiliateID] = append(groups[r.AffiliateID], r)
		}

		affiliateIDs := make([]commission.AffiliateID, 0, len(groups))
		for id := range groups {
			affiliateIDs = append(affiliateIDs, id)
		}
		sort.Slice(affiliateIDs, func(i, j int) bool { return affiliateIDs[i] < affiliateIDs[j] })

		result := commission.PaymentBatch{
			ID:             commission.NewBatchID(),
			RunDate:        asOf,
			PayoutMethod:   method,
			Reference:      newReference(),
			Status:         commission.BatchCompleted,
			IdempotencyKey: idempotencyKey,
			TotalAmount:    decimal.Zero,
			CreatedAt:      b.Now().UTC(),
		}

		for _, affiliateID := range affiliateIDs {
			if ctx.Err() != nil {
				// Stop selecting new affiliates; already-claimed groups
				// still commit with the batch.
				break
			}

			line := commission.PayoutLine{AffiliateID: affiliateID, Amount: decimal.Zero}
			for i := range groups[affiliateID] {
				r := &groups[affiliateID][i]
				change := commission.StateChange{
					PaymentDate:     asOf,
					PayoutMethod:    method,
					PayoutReference: result.Reference,
				}
				err := tx.UpdateState(ctx, r.ID, commission.StateApproved, commission.StatePaid, change)
				if errors.Is(err, commission.ErrStateConflict) {
					continue // reversed concurrently; the reversal wins
				}
				if err != nil {
					return err
				}
				line.CommissionIDs = append(line.CommissionIDs, r.ID)
				line.Amount = line.Amount.Add(r.Amount)
			}
			if len(line.CommissionIDs) == 0 || line.Amount.IsZero() {
				continue
			}

			affiliate, err := tx.GetAffiliate(ctx, affiliateID)
			if err != nil {
				return err
			}
			if err := b.Rail.Pay(ctx, *affiliate, line, result.Reference); err != nil {
				return &commission.BatchFailureError{AffiliateID: affiliateID, Cause: err}
			}

			result.Lines = append(result.Lines, line)
			result.TotalAmount = result.TotalAmount.Add(line.Amount)
		}

		if err := tx.InsertBatch(ctx, result); err != nil {
			return err
		}
		batch = &result
		return nil
	})
	if err != nil {
		if batch != nil {
			// Replay detected inside the transaction.
			return batch, err
		}
		return nil, err
	}

	b.Logger.Info("payout batch completed",
		zap.String("batch", string(batch.ID)),
		zap.String("method", string(method)),
		zap.Int("lines", len(batch.Lines)),
		zap.String("total", batch.TotalAmount.String()))
	return batch, nil
}

// newReference mirrors the BATCH-XXXXXXXXX reference format of the original
// payout rail.
func newReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "BATCH-" + raw[:9]
}
