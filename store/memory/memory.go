// Package memory provides an in-memory commission.TxStore for tests and dev.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	commissions map[commission.CommissionID]commission.Commission
	affiliates  map[commission.AffiliateID]commission.Affiliate
	ruleSets    []commission.RuleSet
	batches     map[commission.BatchID]commission.PaymentBatch
	batchKeys   map[string]commission.BatchID
	// claimed enforces the global invariant: a commission id appears in at
	// most one batch, ever.
	claimed map[commission.CommissionID]commission.BatchID
}

func New() *Store {
	return &Store{
		commissions: make(map[commission.CommissionID]commission.Commission),
		affiliates:  make(map[commission.AffiliateID]commission.Affiliate),
		batches:     make(map[commission.BatchID]commission.PaymentBatch),
		batchKeys:   make(map[string]commission.BatchID),
		claimed:     make(map[commission.CommissionID]commission.BatchID),
	}
}

var _ commission.TxStore = (*Store)(nil)

// =============================================================================
// COMMISSIONS
// =============================================================================

func (s *Store) InsertCommission(_ context.Context, c commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCommissionLocked(c)
}

func (s *Store) insertCommissionLocked(c commission.Commission) error {
	if _, ok := s.commissions[c.ID]; ok {
		return fmt.Errorf("commission %s already exists", c.ID)
	}
	s.commissions[c.ID] = c
	return nil
}

func (s *Store) GetCommission(_ context.Context, id commission.CommissionID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCommissionLocked(id)
}

func (s *Store) getCommissionLocked(id commission.CommissionID) (*commission.Commission, error) {
	c, ok := s.commissions[id]
	if !ok {
		return nil, commission.ErrCommissionNotFound
	}
	out := c
	out.ReviewNotes = append([]string(nil), c.ReviewNotes...)
	return &out, nil
}

func (s *Store) ListCommissions(_ context.Context, f commission.CommissionFilter) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(f), nil
}

func (s *Store) listLocked(f commission.CommissionFilter) []commission.Commission {
	var out []commission.Commission
	for _, c := range s.commissions {
		if f.AffiliateID != nil && c.AffiliateID != *f.AffiliateID {
			continue
		}
		if f.State != nil && c.State != *f.State {
			continue
		}
		if f.Flagged != nil && c.Flagged() != *f.Flagged {
			continue
		}
		c.ReviewNotes = append([]string(nil), c.ReviewNotes...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].SaleDate.Before(out[j].SaleDate)
	})
	return out
}

func (s *Store) UpdateState(_ context.Context, id commission.CommissionID, from, to commission.State, change commission.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStateLocked(id, from, to, change)
}

func (s *Store) updateStateLocked(id commission.CommissionID, from, to commission.State, change commission.StateChange) error {
	c, ok := s.commissions[id]
	if !ok {
		return commission.ErrCommissionNotFound
	}
	if c.State != from {
		return commission.ErrStateConflict
	}
	c.State = to
	if from == commission.StatePendingValidation && to != commission.StatePendingValidation {
		c.ReviewReason = ""
	}
	if !change.ApprovedAt.IsZero() {
		c.ApprovedAt = change.ApprovedAt
	}
	if !change.ReversedAt.IsZero() {
		c.ReversedAt = change.ReversedAt
	}
	if !change.PaymentDate.IsZero() {
		c.PaymentDate = change.PaymentDate
	}
	if change.PayoutMethod != "" {
		c.PayoutMethod = change.PayoutMethod
	}
	if change.PayoutReference != "" {
		c.PayoutReference = change.PayoutReference
	}
	s.commissions[id] = c
	return nil
}

func (s *Store) AppendReviewNote(_ context.Context, id commission.CommissionID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commissions[id]
	if !ok {
		return commission.ErrCommissionNotFound
	}
	c.ReviewNotes = append(append([]string(nil), c.ReviewNotes...), note)
	s.commissions[id] = c
	return nil
}

// =============================================================================
// AFFILIATES
// =============================================================================

func (s *Store) SaveAffiliate(_ context.Context, a commission.Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.affiliates[a.ID] = a
	return nil
}

func (s *Store) GetAffiliate(_ context.Context, id commission.AffiliateID) (*commission.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.affiliates[id]
	if !ok {
		return nil, commission.ErrAffiliateNotFound
	}
	out := a
	return &out, nil
}

func (s *Store) ListAffiliates(_ context.Context) ([]commission.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]commission.Affiliate, 0, len(s.affiliates))
	for _, a := range s.affiliates {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// RULE SETS
// =============================================================================

func (s *Store) SaveRuleSet(_ context.Context, r commission.RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveRuleSetLocked(r)
	return nil
}

// Republishing a version overwrites its config in place.
func (s *Store) saveRuleSetLocked(r commission.RuleSet) {
	for i := range s.ruleSets {
		if s.ruleSets[i].Version == r.Version {
			s.ruleSets[i] = r
			return
		}
	}
	s.ruleSets = append(s.ruleSets, r)
}

func (s *Store) ActiveRuleSet(_ context.Context) (*commission.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ruleSets) == 0 {
		return nil, fmt.Errorf("%w: no rule set published", commission.ErrRuleSetInvalid)
	}
	best := s.ruleSets[0]
	for _, r := range s.ruleSets[1:] {
		if r.Version > best.Version {
			best = r
		}
	}
	return &best, nil
}

// =============================================================================
// PAYMENT BATCHES
// =============================================================================

func (s *Store) InsertBatch(_ context.Context, b commission.PaymentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBatchLocked(b)
}

func (s *Store) insertBatchLocked(b commission.PaymentBatch) error {
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	ids := b.CommissionIDs()
	for _, id := range ids {
		if prior, ok := s.claimed[id]; ok {
			return fmt.Errorf("commission %s already settled in batch %s", id, prior)
		}
	}
	for _, id := range ids {
		s.claimed[id] = b.ID
	}
	s.batches[b.ID] = b
	if b.IdempotencyKey != "" {
		s.batchKeys[b.IdempotencyKey] = b.ID
	}
	return nil
}

func (s *Store) GetBatch(_ context.Context, id commission.BatchID) (*commission.PaymentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	out := b
	return &out, nil
}

func (s *Store) GetBatchByKey(_ context.Context, key string) (*commission.PaymentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.batchKeys[key]
	if !ok {
		return nil, nil
	}
	b := s.batches[id]
	return &b, nil
}

func (s *Store) ListBatches(_ context.Context) ([]commission.PaymentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]commission.PaymentBatch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunDate.After(out[j].RunDate) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Simulated with snapshot + rollback under the write lock
// =============================================================================

// WithTx executes fn while holding the write lock, restoring a snapshot on
// error. Holding the lock for the whole body serializes mutation paths the
// same way a serializable database transaction would.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{parent: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	commissions map[commission.CommissionID]commission.Commission
	batches     map[commission.BatchID]commission.PaymentBatch
	batchKeys   map[string]commission.BatchID
	claimed     map[commission.CommissionID]commission.BatchID
}

func (s *Store) snapshot() storeSnapshot {
	snap := storeSnapshot{
		commissions: make(map[commission.CommissionID]commission.Commission, len(s.commissions)),
		batches:     make(map[commission.BatchID]commission.PaymentBatch, len(s.batches)),
		batchKeys:   make(map[string]commission.BatchID, len(s.batchKeys)),
		claimed:     make(map[commission.CommissionID]commission.BatchID, len(s.claimed)),
	}
	for k, v := range s.commissions {
		snap.commissions[k] = v
	}
	for k, v := range s.batches {
		snap.batches[k] = v
	}
	for k, v := range s.batchKeys {
		snap.batchKeys[k] = v
	}
	for k, v := range s.claimed {
		snap.claimed[k] = v
	}
	return snap
}

func (s *Store) restore(snap storeSnapshot) {
	s.commissions = snap.commissions
	s.batches = snap.batches
	s.batchKeys = snap.batchKeys
	s.claimed = snap.claimed
}

// txView operates on the parent without re-acquiring the lock.
type txView struct {
	parent *Store
}

var _ commission.Store = (*txView)(nil)

func (tv *txView) InsertCommission(_ context.Context, c commission.Commission) error {
	return tv.parent.insertCommissionLocked(c)
}

func (tv *txView) GetCommission(_ context.Context, id commission.CommissionID) (*commission.Commission, error) {
	return tv.parent.getCommissionLocked(id)
}

func (tv *txView) ListCommissions(_ context.Context, f commission.CommissionFilter) ([]commission.Commission, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txView) UpdateState(_ context.Context, id commission.CommissionID, from, to commission.State, change commission.StateChange) error {
	return tv.parent.updateStateLocked(id, from, to, change)
}

func (tv *txView) AppendReviewNote(_ context.Context, id commission.CommissionID, note string) error {
	c, ok := tv.parent.commissions[id]
	if !ok {
		return commission.ErrCommissionNotFound
	}
	c.ReviewNotes = append(append([]string(nil), c.ReviewNotes...), note)
	tv.parent.commissions[id] = c
	return nil
}

func (tv *txView) SaveAffiliate(_ context.Context, a commission.Affiliate) error {
	tv.parent.affiliates[a.ID] = a
	return nil
}

func (tv *txView) GetAffiliate(_ context.Context, id commission.AffiliateID) (*commission.Affiliate, error) {
	a, ok := tv.parent.affiliates[id]
	if !ok {
		return nil, commission.ErrAffiliateNotFound
	}
	out := a
	return &out, nil
}

func (tv *txView) ListAffiliates(ctx context.Context) ([]commission.Affiliate, error) {
	out := make([]commission.Affiliate, 0, len(tv.parent.affiliates))
	for _, a := range tv.parent.affiliates {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txView) SaveRuleSet(_ context.Context, r commission.RuleSet) error {
	tv.parent.saveRuleSetLocked(r)
	return nil
}

func (tv *txView) ActiveRuleSet(_ context.Context) (*commission.RuleSet, error) {
	if len(tv.parent.ruleSets) == 0 {
		return nil, fmt.Errorf("%w: no rule set published", commission.ErrRuleSetInvalid)
	}
	best := tv.parent.ruleSets[0]
	for _, r := range tv.parent.ruleSets[1:] {
		if r.Version > best.Version {
			best = r
		}
	}
	return &best, nil
}

func (tv *txView) InsertBatch(_ context.Context, b commission.PaymentBatch) error {
	return tv.parent.insertBatchLocked(b)
}

func (tv *txView) GetBatch(_ context.Context, id commission.BatchID) (*commission.PaymentBatch, error) {
	b, ok := tv.parent.batches[id]
	if !ok {
		return nil, nil
	}
	out := b
	return &out, nil
}

func (tv *txView) GetBatchByKey(_ context.Context, key string) (*commission.PaymentBatch, error) {
	id, ok := tv.parent.batchKeys[key]
	if !ok {
		return nil, nil
	}
	b := tv.parent.batches[id]
	return &b, nil
}

func (tv *txView) ListBatches(_ context.Context) ([]commission.PaymentBatch, error) {
	out := make([]commission.PaymentBatch, 0, len(tv.parent.batches))
	for _, b := range tv.parent.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunDate.After(out[j].RunDate) })
	return out, nil
}
