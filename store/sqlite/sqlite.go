/*
Package sqlite provides a SQLite-backed implementation of earnings.TxStore.

PURPOSE:
  Persists bookings, rate configuration, earnings, audit entries and
  earning errors. The same schema applies to PostgreSQL (see
  store/postgres) with minor dialect differences.

KEY TABLES:
  bookings:        Booking records (engine writes tax columns only)
  venues:          Venue payout and fee configuration
  concierges:      Concierge payout configuration and referral links
  partners:        Partner override percentages
  earnings:        Current earning set per booking (replaced as a whole)
  audit_log:       One row per non-no-op replacement, before/after JSON
  earning_errors:  Batch failures kept for operator triage

REPLACEMENT CONTRACT:
  Earnings rows are only written inside WithTx: delete all rows of the
  booking, insert the new set. UNIQUE(booking_id, type) rejects a set that
  carries the same earning type twice.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so replacements of the same booking serialise. In
  production with PostgreSQL, row and advisory locks handle this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.
  ":memory:" databases are pinned to a single connection, since each
  connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/earnings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := earnings.NewEngine(store, earnings.DefaultRateConfig(), nil)

SEE ALSO:
  - earnings/store.go: Interface definitions
  - earnings/ledger.go: Replacement logic using WithTx
  - earnings/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/earnings"
)

// Store implements earnings.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewFromDB wraps an already-open database whose schema is managed elsewhere.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS venues (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		payout_venue_percentage TEXT,
		booking_fee_cents INTEGER NOT NULL DEFAULT 0,
		increment_fee_cents INTEGER NOT NULL DEFAULT 0,
		non_prime_fee_per_head_cents INTEGER NOT NULL DEFAULT 0,
		region TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS concierges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		payout_percentage TEXT,
		charity_percentage TEXT NOT NULL DEFAULT '0',
		referring_concierge_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_concierges_referrer
		ON concierges(referring_concierge_id) WHERE referring_concierge_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS partners (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		percentage TEXT,
		suppress_referrals BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		total_fee_cents INTEGER NOT NULL,
		guest_count INTEGER NOT NULL,
		currency TEXT NOT NULL,
		is_prime BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		schedule_reference TEXT NOT NULL DEFAULT '',
		venue_id TEXT NOT NULL,
		concierge_id TEXT NOT NULL,
		partner_concierge_id TEXT,
		partner_venue_id TEXT,
		paid_at_venue BOOLEAN NOT NULL DEFAULT FALSE,
		tax_region TEXT,
		tax_amount_cents INTEGER,
		total_with_tax_cents INTEGER,
		confirmed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_venue ON bookings(venue_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_concierge ON bookings(concierge_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);

	-- Current earning set per booking. Replaced as a whole, never patched.
	CREATE TABLE IF NOT EXISTS earnings (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents >= 0),
		currency TEXT NOT NULL,
		percentage TEXT NOT NULL,
		percentage_of TEXT NOT NULL,
		confirmed_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(booking_id, type)
	);

	CREATE INDEX IF NOT EXISTS idx_earnings_booking ON earnings(booking_id);
	CREATE INDEX IF NOT EXISTS idx_earnings_user ON earnings(user_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		tax_before_json TEXT,
		tax_after_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_booking ON audit_log(booking_id, created_at);

	CREATE TABLE IF NOT EXISTS earning_errors (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_earning_errors_booking ON earning_errors(booking_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONFIGURATION RECORDS
// =============================================================================

// SaveVenue upserts a venue.
func (s *Store) SaveVenue(ctx context.Context, v earnings.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO venues (id, user_id, name, payout_venue_percentage, booking_fee_cents,
			increment_fee_cents, non_prime_fee_per_head_cents, region)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			payout_venue_percentage = excluded.payout_venue_percentage,
			booking_fee_cents = excluded.booking_fee_cents,
			increment_fee_cents = excluded.increment_fee_cents,
			non_prime_fee_per_head_cents = excluded.non_prime_fee_per_head_cents,
			region = excluded.region
	`
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.UserID, v.Name, nullDecimal(v.PayoutVenuePercentage),
		v.BookingFeeCents, v.IncrementFeeCents, v.NonPrimeFeePerHeadCents, v.Region,
	)
	return err
}

// GetVenue retrieves a venue by ID.
func (s *Store) GetVenue(ctx context.Context, id string) (*earnings.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		v   earnings.Venue
		pct sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, payout_venue_percentage, booking_fee_cents,
		       increment_fee_cents, non_prime_fee_per_head_cents, region
		FROM venues WHERE id = ?`, id,
	).Scan(&v.ID, &v.UserID, &v.Name, &pct, &v.BookingFeeCents,
		&v.IncrementFeeCents, &v.NonPrimeFeePerHeadCents, &v.Region)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.PayoutVenuePercentage, err = parseNullDecimal(pct); err != nil {
		return nil, fmt.Errorf("venue %s payout_venue_percentage: %w", id, err)
	}
	return &v, nil
}

// SaveConcierge upserts a concierge.
func (s *Store) SaveConcierge(ctx context.Context, c earnings.Concierge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO concierges (id, user_id, name, payout_percentage, charity_percentage, referring_concierge_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			payout_percentage = excluded.payout_percentage,
			charity_percentage = excluded.charity_percentage,
			referring_concierge_id = excluded.referring_concierge_id
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.Name, nullDecimal(c.PayoutPercentage),
		c.CharityPercentage.String(), nullString(c.ReferringConciergeID),
	)
	return err
}

// GetConcierge retrieves a concierge by ID.
func (s *Store) GetConcierge(ctx context.Context, id string) (*earnings.Concierge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c        earnings.Concierge
		pct      sql.NullString
		charity  string
		referrer sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, payout_percentage, charity_percentage, referring_concierge_id
		FROM concierges WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &pct, &charity, &referrer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.PayoutPercentage, err = parseNullDecimal(pct); err != nil {
		return nil, fmt.Errorf("concierge %s payout_percentage: %w", id, err)
	}
	if c.CharityPercentage, err = decimal.NewFromString(charity); err != nil {
		return nil, fmt.Errorf("concierge %s charity_percentage: %w", id, err)
	}
	c.ReferringConciergeID = referrer.String
	return &c, nil
}

// SavePartner upserts a partner.
func (s *Store) SavePartner(ctx context.Context, p earnings.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO partners (id, user_id, name, percentage, suppress_referrals)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			percentage = excluded.percentage,
			suppress_referrals = excluded.suppress_referrals
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.UserID, p.Name, nullDecimal(p.Percentage), p.SuppressReferrals)
	return err
}

// GetPartner retrieves a partner by ID.
func (s *Store) GetPartner(ctx context.Context, id string) (*earnings.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p   earnings.Partner
		pct sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, percentage, suppress_referrals FROM partners WHERE id = ?", id,
	).Scan(&p.ID, &p.UserID, &p.Name, &pct, &p.SuppressReferrals)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Percentage, err = parseNullDecimal(pct); err != nil {
		return nil, fmt.Errorf("partner %s percentage: %w", id, err)
	}
	return &p, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, total_fee_cents, guest_count, currency, is_prime, status,
	schedule_reference, venue_id, concierge_id, partner_concierge_id, partner_venue_id,
	paid_at_venue, tax_region, tax_amount_cents, total_with_tax_cents, confirmed_at, created_at`

// SaveBooking upserts a booking. This is the booking workflow's write path;
// the engine itself only updates tax columns.
func (s *Store) SaveBooking(ctx context.Context, b earnings.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_fee_cents = excluded.total_fee_cents,
			guest_count = excluded.guest_count,
			currency = excluded.currency,
			is_prime = excluded.is_prime,
			status = excluded.status,
			schedule_reference = excluded.schedule_reference,
			venue_id = excluded.venue_id,
			concierge_id = excluded.concierge_id,
			partner_concierge_id = excluded.partner_concierge_id,
			partner_venue_id = excluded.partner_venue_id,
			paid_at_venue = excluded.paid_at_venue,
			tax_region = excluded.tax_region,
			tax_amount_cents = excluded.tax_amount_cents,
			total_with_tax_cents = excluded.total_with_tax_cents,
			confirmed_at = excluded.confirmed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.TotalFeeCents, b.GuestCount, b.Currency, b.IsPrime, string(b.Status),
		b.ScheduleReference, b.VenueID, b.ConciergeID,
		nullString(b.PartnerConciergeID), nullString(b.PartnerVenueID),
		b.PaidAtVenue, nullString(b.TaxRegion), nullInt64(b.TaxAmountCents), nullInt64(b.TotalWithTaxCents),
		nullTime(b.ConfirmedAt), createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetBooking retrieves a booking by ID.
func (s *Store) GetBooking(ctx context.Context, id string) (*earnings.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBooking(ctx, s.db, id)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getBooking(ctx context.Context, q queryer, id string) (*earnings.Booking, error) {
	var (
		b                                      earnings.Booking
		status                                 string
		partnerConcierge, partnerVenue, region sql.NullString
		tax, totalWithTax                      sql.NullInt64
		confirmedAt                            sql.NullString
		createdAt                              string
	)
	err := q.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id).Scan(
		&b.ID, &b.TotalFeeCents, &b.GuestCount, &b.Currency, &b.IsPrime, &status,
		&b.ScheduleReference, &b.VenueID, &b.ConciergeID, &partnerConcierge, &partnerVenue,
		&b.PaidAtVenue, &region, &tax, &totalWithTax, &confirmedAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}

	b.Status = earnings.BookingStatus(status)
	b.PartnerConciergeID = partnerConcierge.String
	b.PartnerVenueID = partnerVenue.String
	b.TaxRegion = region.String
	if tax.Valid {
		b.TaxAmountCents = &tax.Int64
	}
	if totalWithTax.Valid {
		b.TotalWithTaxCents = &totalWithTax.Int64
	}
	b.ConfirmedAt = parseNullTime(confirmedAt)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &b, nil
}

// SelectBookings resolves the store-level filters of a selection.
func (s *Store) SelectBookings(ctx context.Context, sel earnings.Selection) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := selectionQuery(sel)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select bookings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func selectionQuery(sel earnings.Selection) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT b.id FROM bookings b
		LEFT JOIN concierges c1 ON c1.id = b.concierge_id
		LEFT JOIN concierges c2 ON c2.id = c1.referring_concierge_id
		WHERE 1 = 1`)

	if len(sel.BookingIDs) > 0 {
		sb.WriteString(" AND b.id IN (" + placeholders(len(sel.BookingIDs)) + ")")
		for _, id := range sel.BookingIDs {
			args = append(args, id)
		}
	}
	if len(sel.Statuses) > 0 {
		sb.WriteString(" AND b.status IN (" + placeholders(len(sel.Statuses)) + ")")
		for _, st := range sel.Statuses {
			args = append(args, string(st))
		}
	}
	if sel.VenueID != "" {
		sb.WriteString(" AND b.venue_id = ?")
		args = append(args, sel.VenueID)
	}
	if sel.ConciergeID != "" {
		sb.WriteString(" AND b.concierge_id = ?")
		args = append(args, sel.ConciergeID)
	}
	if sel.PartnerID != "" {
		sb.WriteString(" AND (b.partner_concierge_id = ? OR b.partner_venue_id = ?)")
		args = append(args, sel.PartnerID, sel.PartnerID)
	}
	if sel.ReferrerID != "" {
		sb.WriteString(" AND (b.concierge_id = ? OR c1.referring_concierge_id = ? OR c2.referring_concierge_id = ?)")
		args = append(args, sel.ReferrerID, sel.ReferrerID, sel.ReferrerID)
	}
	sb.WriteString(" ORDER BY b.id")
	return sb.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// =============================================================================
// EARNINGS
// =============================================================================

const earningColumns = `id, booking_id, user_id, type, amount_cents, currency, percentage, percentage_of, confirmed_at`

// LoadEarnings returns the persisted earnings of a booking.
func (s *Store) LoadEarnings(ctx context.Context, bookingID string) ([]earnings.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEarnings(ctx, s.db, bookingID)
}

func loadEarnings(ctx context.Context, q queryer, bookingID string) ([]earnings.Earning, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+earningColumns+" FROM earnings WHERE booking_id = ?", bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	var out []earnings.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	earnings.SortEarnings(out)
	return out, nil
}

func scanEarning(rows *sql.Rows) (earnings.Earning, error) {
	var (
		e           earnings.Earning
		typ         string
		pct         string
		confirmedAt sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.BookingID, &e.UserID, &typ, &e.AmountCents,
		&e.Currency, &pct, &e.PercentageOf, &confirmedAt); err != nil {
		return e, fmt.Errorf("failed to scan earning: %w", err)
	}
	e.Type = earnings.EarningType(typ)
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return e, fmt.Errorf("earning %s percentage: %w", e.ID, err)
	}
	e.Percentage = d
	e.ConfirmedAt = parseNullTime(confirmedAt)
	return e, nil
}

func insertEarnings(ctx context.Context, x execer, rows []earnings.Earning) error {
	query := `
		INSERT INTO earnings (` + earningColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range rows {
		_, err := x.ExecContext(ctx, query,
			e.ID, e.BookingID, e.UserID, string(e.Type), e.AmountCents,
			e.Currency, e.Percentage.String(), e.PercentageOf, nullTime(e.ConfirmedAt), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate earning %s for booking %s: %w", e.Type, e.BookingID, err)
			}
			return fmt.Errorf("failed to insert earning: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (earnings.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(earnings.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

// LockBooking reads the booking inside the transaction. The store's write
// lock, held by WithTx, is what serialises concurrent replacements.
func (ts *txStore) LockBooking(ctx context.Context, bookingID string) (*earnings.Booking, error) {
	return getBooking(ctx, ts.tx, bookingID)
}

func (ts *txStore) LoadEarnings(ctx context.Context, bookingID string) ([]earnings.Earning, error) {
	return loadEarnings(ctx, ts.tx, bookingID)
}

func (ts *txStore) DeleteEarnings(ctx context.Context, bookingID string) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM earnings WHERE booking_id = ?", bookingID)
	if err != nil {
		return fmt.Errorf("failed to delete earnings: %w", err)
	}
	return nil
}

func (ts *txStore) InsertEarnings(ctx context.Context, rows []earnings.Earning) error {
	return insertEarnings(ctx, ts.tx, rows)
}

func (ts *txStore) UpdateBookingTax(ctx context.Context, bookingID string, tax earnings.BookingTax) error {
	_, err := ts.tx.ExecContext(ctx,
		"UPDATE bookings SET tax_amount_cents = ?, total_with_tax_cents = ? WHERE id = ?",
		tax.TaxAmountCents, tax.TotalWithTaxCents, bookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking tax: %w", err)
	}
	return nil
}

func (ts *txStore) AppendAudit(ctx context.Context, a earnings.AuditEntry) error {
	before, err := json.Marshal(nonNil(a.Before))
	if err != nil {
		return err
	}
	after, err := json.Marshal(nonNil(a.After))
	if err != nil {
		return err
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, booking_id, action, actor, reason, before_json, after_json,
			tax_before_json, tax_after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BookingID, string(a.Action), a.Actor, a.Reason, string(before), string(after),
		jsonOrNull(a.TaxBefore), jsonOrNull(a.TaxAfter), a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT AND TRIAGE
// =============================================================================

// AuditEntries returns the audit trail of a booking, oldest first.
func (s *Store) AuditEntries(ctx context.Context, bookingID string) ([]earnings.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, action, actor, reason, before_json, after_json,
		       tax_before_json, tax_after_json, created_at
		FROM audit_log WHERE booking_id = ?
		ORDER BY created_at ASC, rowid ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []earnings.AuditEntry
	for rows.Next() {
		var (
			a                   earnings.AuditEntry
			action              string
			before, after       string
			taxBefore, taxAfter sql.NullString
			createdAt           string
		)
		if err := rows.Scan(&a.ID, &a.BookingID, &action, &a.Actor, &a.Reason, &before, &after,
			&taxBefore, &taxAfter, &createdAt); err != nil {
			return nil, err
		}
		a.Action = earnings.AuditAction(action)
		if err := json.Unmarshal([]byte(before), &a.Before); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(after), &a.After); err != nil {
			return nil, err
		}
		a.TaxBefore = parseTax(taxBefore)
		a.TaxAfter = parseTax(taxAfter)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordEarningError stores a batch failure for triage.
func (s *Store) RecordEarningError(ctx context.Context, e earnings.EarningError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := json.Marshal(nonNil(e.Snapshot))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO earning_errors (id, booking_id, kind, message, snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.BookingID, e.Kind, e.Message, string(snapshot), e.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// ListEarningErrors returns the newest errors first, optionally for one booking.
func (s *Store) ListEarningErrors(ctx context.Context, bookingID string, limit int) ([]earnings.EarningError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, booking_id, kind, message, snapshot_json, created_at FROM earning_errors"
	var args []any
	if bookingID != "" {
		query += " WHERE booking_id = ?"
		args = append(args, bookingID)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []earnings.EarningError
	for rows.Next() {
		var (
			e         earnings.EarningError
			snapshot  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Kind, &e.Message, &snapshot, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &e.Snapshot); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTax(s sql.NullString) *earnings.BookingTax {
	if !s.Valid || s.String == "" {
		return nil
	}
	var t earnings.BookingTax
	if err := json.Unmarshal([]byte(s.String), &t); err != nil {
		return nil
	}
	return &t
}

func jsonOrNull(t *earnings.BookingTax) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nonNil(es []earnings.Earning) []earnings.Earning {
	if es == nil {
		return []earnings.Earning{}
	}
	return es
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
