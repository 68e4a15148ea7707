/*
Package sqlite provides a SQLite-backed implementation of commission.TxStore.

PURPOSE:
  Persists the commission ledger, affiliates, rule sets and payment
  batches. The same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

LEDGER ENFORCEMENT:
  - Commission rows are never deleted; the only UPDATE touches lifecycle
    state, guarded by "WHERE state = ?" (compare-and-swap)
  - SaleAmount/Rate/Amount are written once at insert and never updated
  - batch_commissions carries a UNIQUE constraint on commission_id, so a
    commission can be settled by at most one batch across all time

CONCURRENCY:
  A sync.Mutex serializes the mutation path on top of SQLite's single
  writer; WAL mode keeps readers unblocked. With PostgreSQL, serializable
  transactions would replace the mutex.

USAGE:
  store, err := sqlite.New("./data/commissions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - commission/store.go: interface definitions and CAS contract
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// Store implements commission.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ commission.TxStore = (*Store)(nil)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The in-memory database lives per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Commission ledger (rows are never deleted)
	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		affiliate_id TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		customer TEXT NOT NULL,
		product TEXT NOT NULL,
		sale_amount TEXT NOT NULL,
		rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT NOT NULL DEFAULT '',
		review_notes_json TEXT NOT NULL DEFAULT '[]',
		validation_days INTEGER NOT NULL,
		grace_days INTEGER NOT NULL,
		rule_set_version INTEGER NOT NULL,
		payment_date TEXT,
		payout_method TEXT NOT NULL DEFAULT '',
		payout_reference TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		reversed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_affiliate
		ON commissions(affiliate_id, sale_date);
	CREATE INDEX IF NOT EXISTS idx_commissions_state
		ON commissions(state);

	-- Affiliates (derived totals are NOT stored here)
	CREATE TABLE IF NOT EXISTS affiliates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		preferred_payout_method TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Rule sets, versioned; highest version is active
	CREATE TABLE IF NOT EXISTS rule_sets (
		version INTEGER PRIMARY KEY,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Payout runs (immutable historical records)
	CREATE TABLE IF NOT EXISTS payment_batches (
		id TEXT PRIMARY KEY,
		run_date TEXT NOT NULL,
		payout_method TEXT NOT NULL,
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		lines_json TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Batch membership: a commission settles in at most one batch, ever
	CREATE TABLE IF NOT EXISTS batch_commissions (
		batch_id TEXT NOT NULL,
		commission_id TEXT NOT NULL UNIQUE,
		FOREIGN KEY (batch_id) REFERENCES payment_batches(id),
		FOREIGN KEY (commission_id) REFERENCES commissions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_batch_commissions_batch
		ON batch_commissions(batch_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DBTX - Shared query surface for *sql.DB and *sql.Tx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements commission.Store over any dbtx.
type queries struct {
	db dbtx
}

var _ commission.Store = queries{}

// =============================================================================
// COMMISSIONS
// =============================================================================

const commissionColumns = `id, affiliate_id, sale_date, customer, product,
	sale_amount, rate, amount, state, is_recurring, review_reason,
	review_notes_json, validation_days, grace_days, rule_set_version,
	payment_date, payout_method, payout_reference, approved_at, reversed_at, created_at`

func (q queries) InsertCommission(ctx context.Context, c commission.Commission) error {
	notesJSON, err := json.Marshal(c.ReviewNotes)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO commissions (`+commissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AffiliateID, formatTime(c.SaleDate), c.Customer, c.Product,
		c.SaleAmount.String(), c.Rate.String(), c.Amount.String(),
		c.State, c.IsRecurring, c.ReviewReason, string(notesJSON),
		c.ValidationDays, c.GraceDays, c.RuleSetVersion,
		nullTime(c.PaymentDate), string(c.PayoutMethod), c.PayoutReference,
		nullTime(c.ApprovedAt), nullTime(c.ReversedAt), formatTime(c.CreatedAt),
	)
	return err
}

func (q queries) GetCommission(ctx context.Context, id commission.CommissionID) (*commission.Commission, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE id = ?`, id)
	c, err := scanCommission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrCommissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (q queries) ListCommissions(ctx context.Context, f commission.CommissionFilter) ([]commission.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE 1=1`
	var args []any
	if f.AffiliateID != nil {
		query += ` AND affiliate_id = ?`
		args = append(args, *f.AffiliateID)
	}
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, *f.State)
	}
	if f.Flagged != nil {
		if *f.Flagged {
			query += ` AND review_reason != ''`
		} else {
			query += ` AND review_reason = ''`
		}
	}
	query += ` ORDER BY sale_date ASC, id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (q queries) UpdateState(ctx context.Context, id commission.CommissionID, from, to commission.State, change commission.StateChange) error {
	query := `UPDATE commissions SET state = ?`
	args := []any{to}
	if from == commission.StatePendingValidation && to != commission.StatePendingValidation {
		query += `, review_reason = ''`
	}
	if !change.ApprovedAt.IsZero() {
		query += `, approved_at = ?`
		args = append(args, formatTime(change.ApprovedAt))
	}
	if !change.ReversedAt.IsZero() {
		query += `, reversed_at = ?`
		args = append(args, formatTime(change.ReversedAt))
	}
	if !change.PaymentDate.IsZero() {
		query += `, payment_date = ?`
		args = append(args, formatTime(change.PaymentDate))
	}
	if change.PayoutMethod != "" {
		query += `, payout_method = ?`
		args = append(args, string(change.PayoutMethod))
	}
	if change.PayoutReference != "" {
		query += `, payout_reference = ?`
		args = append(args, change.PayoutReference)
	}
	query += ` WHERE id = ? AND state = ?`
	args = append(args, id, from)

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := q.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM commissions WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return commission.ErrCommissionNotFound
		}
		return commission.ErrStateConflict
	}
	return nil
}

func (q queries) AppendReviewNote(ctx context.Context, id commission.CommissionID, note string) error {
	c, err := q.GetCommission(ctx, id)
	if err != nil {
		return err
	}
	notesJSON, err := json.Marshal(append(c.ReviewNotes, note))
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE commissions SET review_notes_json = ? WHERE id = ?`, string(notesJSON), id)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCommission(row scannable) (*commission.Commission, error) {
	var (
		c                                   commission.Commission
		saleDate, createdAt                 string
		saleAmount, rate, amount            string
		notesJSON, payoutMethod             string
		paymentDate, approvedAt, reversedAt sql.NullString
	)
	err := row.Scan(&c.ID, &c.AffiliateID, &saleDate, &c.Customer, &c.Product,
		&saleAmount, &rate, &amount, &c.State, &c.IsRecurring, &c.ReviewReason,
		&notesJSON, &c.ValidationDays, &c.GraceDays, &c.RuleSetVersion,
		&paymentDate, &payoutMethod, &c.PayoutReference,
		&approvedAt, &reversedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if c.SaleDate, err = parseTime(saleDate); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.SaleAmount, err = decimal.NewFromString(saleAmount); err != nil {
		return nil, err
	}
	if c.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(notesJSON), &c.ReviewNotes); err != nil {
		return nil, err
	}
	c.PayoutMethod = commission.PayoutMethod(payoutMethod)
	if c.PaymentDate, err = parseNullTime(paymentDate); err != nil {
		return nil, err
	}
	if c.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if c.ReversedAt, err = parseNullTime(reversedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// AFFILIATES
// =============================================================================

func (q queries) SaveAffiliate(ctx context.Context, a commission.Affiliate) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO affiliates (id, name, email, tier, preferred_payout_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			tier = excluded.tier,
			preferred_payout_method = excluded.preferred_payout_method`,
		a.ID, a.Name, a.Email, a.Tier, a.PreferredPayoutMethod, formatTime(a.CreatedAt))
	return err
}

func (q queries) GetAffiliate(ctx context.Context, id commission.AffiliateID) (*commission.Affiliate, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, email, tier, preferred_payout_method, created_at
		FROM affiliates WHERE id = ?`, id)
	a, err := scanAffiliate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrAffiliateNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (q queries) ListAffiliates(ctx context.Context) ([]commission.Affiliate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, email, tier, preferred_payout_method, created_at
		FROM affiliates ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Affiliate
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAffiliate(row scannable) (*commission.Affiliate, error) {
	var (
		a         commission.Affiliate
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Tier, &a.PreferredPayoutMethod, &createdAt)
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// RULE SETS
// =============================================================================

func (q queries) SaveRuleSet(ctx context.Context, r commission.RuleSet) error {
	configJSON, err := json.Marshal(r)
	if err != nil {
		return err
	}
	// Republishing a version overwrites its config. Snapshots on existing
	// commissions are unaffected either way.
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rule_sets (version, config_json, created_at) VALUES (?, ?, ?)`,
		r.Version, string(configJSON), formatTime(time.Now().UTC()))
	return err
}

func (q queries) ActiveRuleSet(ctx context.Context) (*commission.RuleSet, error) {
	var configJSON string
	err := q.db.QueryRowContext(ctx, `
		SELECT config_json FROM rule_sets ORDER BY version DESC LIMIT 1`).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no rule set published", commission.ErrRuleSetInvalid)
	}
	if err != nil {
		return nil, err
	}
	var r commission.RuleSet
	if err := json.Unmarshal([]byte(configJSON), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// =============================================================================
// PAYMENT BATCHES
// =============================================================================

func (q queries) InsertBatch(ctx context.Context, b commission.PaymentBatch) error {
	linesJSON, err := json.Marshal(b.Lines)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO payment_batches
			(id, run_date, payout_method, reference, status, idempotency_key, lines_json, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, formatTime(b.RunDate), b.PayoutMethod, b.Reference, b.Status,
		nullString(b.IdempotencyKey), string(linesJSON), b.TotalAmount.String(),
		formatTime(b.CreatedAt))
	if err != nil {
		return err
	}
	// Claim membership; the UNIQUE constraint on commission_id enforces the
	// one-batch-ever invariant.
	for _, id := range b.CommissionIDs() {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO batch_commissions (batch_id, commission_id) VALUES (?, ?)`, b.ID, id)
		if err != nil {
			return fmt.Errorf("commission %s already settled: %w", id, err)
		}
	}
	return nil
}

func (q queries) GetBatch(ctx context.Context, id commission.BatchID) (*commission.PaymentBatch, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, run_date, payout_method, reference, status, idempotency_key,
		       lines_json, total_amount, created_at
		FROM payment_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (q queries) GetBatchByKey(ctx context.Context, key string) (*commission.PaymentBatch, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, run_date, payout_method, reference, status, idempotency_key,
		       lines_json, total_amount, created_at
		FROM payment_batches WHERE idempotency_key = ?`, key)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (q queries) ListBatches(ctx context.Context) ([]commission.PaymentBatch, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, run_date, payout_method, reference, status, idempotency_key,
		       lines_json, total_amount, created_at
		FROM payment_batches ORDER BY run_date DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.PaymentBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBatch(row scannable) (*commission.PaymentBatch, error) {
	var (
		b                               commission.PaymentBatch
		runDate, createdAt, totalAmount string
		linesJSON                       string
		idempotencyKey                  sql.NullString
	)
	err := row.Scan(&b.ID, &runDate, &b.PayoutMethod, &b.Reference, &b.Status,
		&idempotencyKey, &linesJSON, &totalAmount, &createdAt)
	if err != nil {
		return nil, err
	}
	if b.RunDate, err = parseTime(runDate); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(linesJSON), &b.Lines); err != nil {
		return nil, err
	}
	b.IdempotencyKey = idempotencyKey.String
	return &b, nil
}

// =============================================================================
// STORE - commission.TxStore over *sql.DB
// =============================================================================

func (s *Store) InsertCommission(ctx context.Context, c commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.InsertCommission(ctx, c)
}

func (s *Store) GetCommission(ctx context.Context, id commission.CommissionID) (*commission.Commission, error) {
	return queries{s.db}.GetCommission(ctx, id)
}

func (s *Store) ListCommissions(ctx context.Context, f commission.CommissionFilter) ([]commission.Commission, error) {
	return queries{s.db}.ListCommissions(ctx, f)
}

func (s *Store) UpdateState(ctx context.Context, id commission.CommissionID, from, to commission.State, change commission.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateState(ctx, id, from, to, change)
}

func (s *Store) AppendReviewNote(ctx context.Context, id commission.CommissionID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendReviewNote(ctx, id, note)
}

func (s *Store) SaveAffiliate(ctx context.Context, a commission.Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveAffiliate(ctx, a)
}

func (s *Store) GetAffiliate(ctx context.Context, id commission.AffiliateID) (*commission.Affiliate, error) {
	return queries{s.db}.GetAffiliate(ctx, id)
}

func (s *Store) ListAffiliates(ctx context.Context) ([]commission.Affiliate, error) {
	return queries{s.db}.ListAffiliates(ctx)
}

func (s *Store) SaveRuleSet(ctx context.Context, r commission.RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveRuleSet(ctx, r)
}

func (s *Store) ActiveRuleSet(ctx context.Context) (*commission.RuleSet, error) {
	return queries{s.db}.ActiveRuleSet(ctx)
}

// InsertBatch runs in its own transaction so a rejected claim never leaves
// a partial batch row behind.
func (s *Store) InsertBatch(ctx context.Context, b commission.PaymentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := (queries{tx}).InsertBatch(ctx, b); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) GetBatch(ctx context.Context, id commission.BatchID) (*commission.PaymentBatch, error) {
	return queries{s.db}.GetBatch(ctx, id)
}

func (s *Store) GetBatchByKey(ctx context.Context, key string) (*commission.PaymentBatch, error) {
	return queries{s.db}.GetBatchByKey(ctx, key)
}

func (s *Store) ListBatches(ctx context.Context) ([]commission.PaymentBatch, error) {
	return queries{s.db}.ListBatches(ctx)
}

// WithTx executes fn within a database transaction. The mutex serializes
// writers so batch runs and lifecycle transitions cannot interleave.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(queries{tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, ns.String)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
