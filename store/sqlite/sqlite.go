/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

INTERFACES IMPLEMENTED:
  ledger.Store:            Entry persistence + balance projection cache
  ledger.TxStore:          Transactional multi-step workflows
  ledger.EligibilityStore: Discount flags

KEY TABLES:
  entries:     All ledger entries (fees, credits, adjustments, refunds)
  balances:    Cached per-member balance projections
  eligibility: Discount eligibility flags

AMOUNTS:
  Stored as decimal TEXT, never REAL. Monetary amounts round-trip through
  shopspring/decimal exactly.

ORDERING:
  List() orders by due_date, created_at, id - the allocator's
  oldest-due-first contract.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/clubledger/finance-engine/ledger"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The per-member lock in the engine is the real write serializer;
	// a single connection keeps SQLite's own locking out of the way.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		fee_type TEXT,
		base_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		final_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		paid_date TEXT,
		event_id TEXT,
		fixture_id TEXT,
		match_event_id TEXT,
		role TEXT,
		minutes_played INTEGER,
		season TEXT,
		method TEXT,
		notes TEXT,
		marked_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Allocation hot path: outstanding entries per member, oldest due first
	CREATE INDEX IF NOT EXISTS idx_entries_member_due
		ON entries(member_id, due_date, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_member_status
		ON entries(member_id, status);

	-- Idempotency lookups per trigger
	CREATE INDEX IF NOT EXISTS idx_entries_event
		ON entries(event_id) WHERE event_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_fixture
		ON entries(fixture_id) WHERE fixture_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_match_event
		ON entries(match_event_id) WHERE match_event_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_season
		ON entries(member_id, season) WHERE season IS NOT NULL;

	-- Sweep scan
	CREATE INDEX IF NOT EXISTS idx_entries_status_due
		ON entries(status, due_date);

	CREATE TABLE IF NOT EXISTS balances (
		member_id TEXT PRIMARY KEY,
		current_balance TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS eligibility (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		discount_type TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		verified_by TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one ACTIVE flag per (member, discount type)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_eligibility_active_unique
		ON eligibility(member_id, discount_type) WHERE is_active = 1;

	CREATE INDEX IF NOT EXISTS idx_eligibility_member
		ON eligibility(member_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERYER - shared by *sql.DB and *sql.Tx paths
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `id, member_id, kind, fee_type, base_amount, discount_amount,
	final_amount, paid_amount, status, due_date, paid_date, event_id, fixture_id,
	match_event_id, role, minutes_played, season, method, notes, marked_by,
	created_at, updated_at`

func insertEntry(ctx context.Context, q queryer, e *ledger.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.MemberID), string(e.Kind), nullString(string(e.FeeType)),
		e.Base.Value.String(), e.Discount.Value.String(), e.Final.Value.String(), e.Paid.Value.String(),
		string(e.Status), formatTime(e.DueDate), nullTime(e.PaidDate),
		nullString(string(e.EventID)), nullString(string(e.FixtureID)), nullString(string(e.MatchEventID)),
		nullString(string(e.Role)), nullInt(e.MinutesPlayed), nullString(e.Season),
		nullString(string(e.Method)), nullString(e.Notes), nullString(e.MarkedBy),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	return err
}

func updateEntry(ctx context.Context, q queryer, e *ledger.LedgerEntry) error {
	res, err := q.ExecContext(ctx, `
		UPDATE entries SET
			member_id = ?, kind = ?, fee_type = ?, base_amount = ?, discount_amount = ?,
			final_amount = ?, paid_amount = ?, status = ?, due_date = ?, paid_date = ?,
			event_id = ?, fixture_id = ?, match_event_id = ?, role = ?, minutes_played = ?,
			season = ?, method = ?, notes = ?, marked_by = ?, updated_at = ?
		WHERE id = ?`,
		string(e.MemberID), string(e.Kind), nullString(string(e.FeeType)),
		e.Base.Value.String(), e.Discount.Value.String(), e.Final.Value.String(), e.Paid.Value.String(),
		string(e.Status), formatTime(e.DueDate), nullTime(e.PaidDate),
		nullString(string(e.EventID)), nullString(string(e.FixtureID)), nullString(string(e.MatchEventID)),
		nullString(string(e.Role)), nullInt(e.MinutesPlayed), nullString(e.Season),
		nullString(string(e.Method)), nullString(e.Notes), nullString(e.MarkedBy),
		formatTime(e.UpdatedAt), string(e.ID),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func deleteEntry(ctx context.Context, q queryer, id ledger.EntryID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func getEntry(ctx context.Context, q queryer, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, string(id))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	return e, err
}

func listEntries(ctx context.Context, q queryer, filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)

	add := func(clause string, a ...any) {
		where = append(where, clause)
		args = append(args, a...)
	}

	if filter.MemberID != nil {
		add("member_id = ?", string(*filter.MemberID))
	}
	if len(filter.Kinds) > 0 {
		add("kind IN ("+placeholders(len(filter.Kinds))+")", kindArgs(filter.Kinds)...)
	}
	if filter.FeeType != nil {
		add("fee_type = ?", string(*filter.FeeType))
	}
	if len(filter.Statuses) > 0 {
		add("status IN ("+placeholders(len(filter.Statuses))+")", statusArgs(filter.Statuses)...)
	}
	if filter.EventID != nil {
		add("event_id = ?", string(*filter.EventID))
	}
	if filter.FixtureID != nil {
		add("fixture_id = ?", string(*filter.FixtureID))
	}
	if filter.MatchEventID != nil {
		add("match_event_id = ?", string(*filter.MatchEventID))
	}
	if filter.Season != nil {
		add("season = ?", *filter.Season)
	}
	if filter.DueBefore != nil {
		add("due_date < ?", formatTime(*filter.DueBefore))
	}
	if filter.DueAfter != nil {
		add("due_date > ?", formatTime(*filter.DueAfter))
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date ASC, created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func getBalance(ctx context.Context, q queryer, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	row := q.QueryRowContext(ctx,
		`SELECT current_balance, last_updated FROM balances WHERE member_id = ?`, string(memberID))

	var balanceStr, updatedStr string
	err := row.Scan(&balanceStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.BalanceProjection{MemberID: memberID, CurrentBalance: ledger.ZeroMoney()}, nil
	}
	if err != nil {
		return ledger.BalanceProjection{}, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return ledger.BalanceProjection{}, fmt.Errorf("corrupt balance for %s: %w", memberID, err)
	}
	updated, err := parseTime(updatedStr)
	if err != nil {
		return ledger.BalanceProjection{}, err
	}
	return ledger.BalanceProjection{
		MemberID:       memberID,
		CurrentBalance: ledger.Money{Value: balance},
		LastUpdated:    updated,
	}, nil
}

func saveBalance(ctx context.Context, q queryer, b ledger.BalanceProjection) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO balances (member_id, current_balance, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			current_balance = excluded.current_balance,
			last_updated = excluded.last_updated`,
		string(b.MemberID), b.CurrentBalance.Value.String(), formatTime(b.LastUpdated))
	return err
}

// =============================================================================
// STORE INTERFACE (non-transactional path)
// =============================================================================

func (s *Store) Insert(ctx context.Context, e *ledger.LedgerEntry) error {
	return insertEntry(ctx, s.db, e)
}

func (s *Store) Update(ctx context.Context, e *ledger.LedgerEntry) error {
	return updateEntry(ctx, s.db, e)
}

func (s *Store) Delete(ctx context.Context, id ledger.EntryID) error {
	return deleteEntry(ctx, s.db, id)
}

func (s *Store) Get(ctx context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	return getEntry(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	return listEntries(ctx, s.db, filter)
}

func (s *Store) GetBalance(ctx context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	return getBalance(ctx, s.db, memberID)
}

func (s *Store) SaveBalance(ctx context.Context, b ledger.BalanceProjection) error {
	return saveBalance(ctx, s.db, b)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	view := &txView{tx: tx}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

type txView struct {
	tx *sql.Tx
}

func (v *txView) Insert(ctx context.Context, e *ledger.LedgerEntry) error {
	return insertEntry(ctx, v.tx, e)
}

func (v *txView) Update(ctx context.Context, e *ledger.LedgerEntry) error {
	return updateEntry(ctx, v.tx, e)
}

func (v *txView) Delete(ctx context.Context, id ledger.EntryID) error {
	return deleteEntry(ctx, v.tx, id)
}

func (v *txView) Get(ctx context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	return getEntry(ctx, v.tx, id)
}

func (v *txView) List(ctx context.Context, filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	return listEntries(ctx, v.tx, filter)
}

func (v *txView) GetBalance(ctx context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	return getBalance(ctx, v.tx, memberID)
}

func (v *txView) SaveBalance(ctx context.Context, b ledger.BalanceProjection) error {
	return saveBalance(ctx, v.tx, b)
}

// =============================================================================
// ELIGIBILITY STORE
// =============================================================================

func (s *Store) ActiveEligibility(ctx context.Context, memberID ledger.MemberID, asOf time.Time) (*ledger.DiscountEligibility, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, discount_type, is_active, start_date, end_date, verified_by, created_at
		FROM eligibility
		WHERE member_id = ? AND is_active = 1
		ORDER BY created_at ASC`, string(memberID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanEligibility(rows)
		if err != nil {
			return nil, err
		}
		if d.AppliesAt(asOf) {
			return d, nil
		}
	}
	return nil, rows.Err()
}

func (s *Store) SaveEligibility(ctx context.Context, d ledger.DiscountEligibility) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eligibility (id, member_id, discount_type, is_active, start_date, end_date, verified_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.MemberID), string(d.DiscountType), d.IsActive,
		formatTime(d.StartDate), nullTime(d.EndDate), nullString(d.VerifiedBy), formatTime(d.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "idx_eligibility_active_unique") {
		return &ledger.DuplicateEligibilityError{MemberID: d.MemberID, DiscountType: d.DiscountType}
	}
	return err
}

func (s *Store) ListEligibility(ctx context.Context, memberID ledger.MemberID) ([]ledger.DiscountEligibility, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, discount_type, is_active, start_date, end_date, verified_by, created_at
		FROM eligibility WHERE member_id = ? ORDER BY created_at ASC`, string(memberID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.DiscountEligibility
	for rows.Next() {
		d, err := scanEligibility(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// =============================================================================
// SCANNING AND NULL HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.LedgerEntry, error) {
	var (
		e                                             ledger.LedgerEntry
		id, memberID, kind, status                    string
		feeType, eventID, fixtureID, matchEventID     sql.NullString
		role, season, method, notes, markedBy         sql.NullString
		baseStr, discountStr, finalStr, paidStr       string
		dueStr, createdStr, updatedStr                string
		paidDateStr                                   sql.NullString
		minutes                                       sql.NullInt64
	)

	err := row.Scan(&id, &memberID, &kind, &feeType, &baseStr, &discountStr,
		&finalStr, &paidStr, &status, &dueStr, &paidDateStr, &eventID, &fixtureID,
		&matchEventID, &role, &minutes, &season, &method, &notes, &markedBy,
		&createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	e.ID = ledger.EntryID(id)
	e.MemberID = ledger.MemberID(memberID)
	e.Kind = ledger.EntryKind(kind)
	e.FeeType = ledger.FeeType(feeType.String)
	e.Status = ledger.EntryStatus(status)
	e.EventID = ledger.EventID(eventID.String)
	e.FixtureID = ledger.FixtureID(fixtureID.String)
	e.MatchEventID = ledger.MatchEventID(matchEventID.String)
	e.Role = ledger.SelectionRole(role.String)
	e.Season = season.String
	e.Method = ledger.PaymentMethod(method.String)
	e.Notes = notes.String
	e.MarkedBy = markedBy.String

	if e.Base, err = parseMoney(baseStr); err != nil {
		return nil, err
	}
	if e.Discount, err = parseMoney(discountStr); err != nil {
		return nil, err
	}
	if e.Final, err = parseMoney(finalStr); err != nil {
		return nil, err
	}
	if e.Paid, err = parseMoney(paidStr); err != nil {
		return nil, err
	}

	if e.DueDate, err = parseTime(dueStr); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	if paidDateStr.Valid {
		t, err := parseTime(paidDateStr.String)
		if err != nil {
			return nil, err
		}
		e.PaidDate = &t
	}
	if minutes.Valid {
		m := int(minutes.Int64)
		e.MinutesPlayed = &m
	}
	return &e, nil
}

func scanEligibility(row rowScanner) (*ledger.DiscountEligibility, error) {
	var (
		d                      ledger.DiscountEligibility
		memberID, discountType string
		startStr, createdStr   string
		endStr, verifiedBy     sql.NullString
	)
	err := row.Scan(&d.ID, &memberID, &discountType, &d.IsActive, &startStr, &endStr, &verifiedBy, &createdStr)
	if err != nil {
		return nil, err
	}
	d.MemberID = ledger.MemberID(memberID)
	d.DiscountType = ledger.DiscountType(discountType)
	d.VerifiedBy = verifiedBy.String
	if d.StartDate, err = parseTime(startStr); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if endStr.Valid {
		t, err := parseTime(endStr.String)
		if err != nil {
			return nil, err
		}
		d.EndDate = &t
	}
	return &d, nil
}

func parseMoney(s string) (ledger.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.ZeroMoney(), fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return ledger.Money{Value: d}, nil
}

// timeLayout is fixed-width: fractional seconds are zero-padded, never
// trimmed. The ORDER BY and due-date range filters compare these TEXT
// columns lexicographically, so variable-width values (RFC3339Nano trims
// trailing zeros) would invert the ordering at subsecond boundaries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	// RFC3339Nano accepts any fractional width, covering rows written
	// before the layout was fixed-width.
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func kindArgs(ks []ledger.EntryKind) []any {
	args := make([]any, len(ks))
	for i, k := range ks {
		args[i] = string(k)
	}
	return args
}

func statusArgs(ss []ledger.EntryStatus) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = string(s)
	}
	return args
}
