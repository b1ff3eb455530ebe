// Package postgres implements earnings.TxStore on PostgreSQL using pgx
// directly (no ORM).
//
// Replacements of the same booking are serialised twice over: a transaction
// scoped advisory lock keyed on the booking id, then SELECT ... FOR UPDATE on
// the booking row. The advisory lock also covers bookings whose row is being
// inserted concurrently by the booking workflow.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/earnings"
)

// Store implements earnings.TxStore on a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// Connection retry while the database starts up.
var (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Connect opens a pool for dsn, retrying while the database starts up, and
// applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Close() {
	s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS venues (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	payout_venue_percentage NUMERIC,
	booking_fee_cents BIGINT NOT NULL DEFAULT 0,
	increment_fee_cents BIGINT NOT NULL DEFAULT 0,
	non_prime_fee_per_head_cents BIGINT NOT NULL DEFAULT 0,
	region TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS concierges (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	payout_percentage NUMERIC,
	charity_percentage NUMERIC NOT NULL DEFAULT 0,
	referring_concierge_id TEXT
);

CREATE TABLE IF NOT EXISTS partners (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	percentage NUMERIC,
	suppress_referrals BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	total_fee_cents BIGINT NOT NULL,
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
	tax_amount_cents BIGINT,
	total_with_tax_cents BIGINT,
	confirmed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bookings_venue ON bookings(venue_id);
CREATE INDEX IF NOT EXISTS idx_bookings_concierge ON bookings(concierge_id);

CREATE TABLE IF NOT EXISTS earnings (
	id UUID PRIMARY KEY,
	booking_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
	currency TEXT NOT NULL,
	percentage NUMERIC NOT NULL,
	percentage_of TEXT NOT NULL,
	confirmed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (booking_id, type)
);

CREATE INDEX IF NOT EXISTS idx_earnings_user ON earnings(user_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id UUID PRIMARY KEY,
	booking_id TEXT NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	before_json JSONB NOT NULL,
	after_json JSONB NOT NULL,
	tax_before_json JSONB,
	tax_after_json JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_booking ON audit_log(booking_id, created_at);

CREATE TABLE IF NOT EXISTS earning_errors (
	id UUID PRIMARY KEY,
	booking_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	snapshot_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_earning_errors_booking ON earning_errors(booking_id);
`

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// =============================================================================
// CONFIGURATION RECORDS
// =============================================================================

func (s *Store) SaveVenue(ctx context.Context, v earnings.Venue) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO venues (id, user_id, name, payout_venue_percentage, booking_fee_cents,
			increment_fee_cents, non_prime_fee_per_head_cents, region)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			payout_venue_percentage = EXCLUDED.payout_venue_percentage,
			booking_fee_cents = EXCLUDED.booking_fee_cents,
			increment_fee_cents = EXCLUDED.increment_fee_cents,
			non_prime_fee_per_head_cents = EXCLUDED.non_prime_fee_per_head_cents,
			region = EXCLUDED.region`,
		v.ID, v.UserID, v.Name, decimalArg(v.PayoutVenuePercentage),
		v.BookingFeeCents, v.IncrementFeeCents, v.NonPrimeFeePerHeadCents, v.Region,
	)
	if err != nil {
		return fmt.Errorf("save venue: %w", err)
	}
	return nil
}

func (s *Store) GetVenue(ctx context.Context, id string) (*earnings.Venue, error) {
	var (
		v   earnings.Venue
		pct *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, payout_venue_percentage::text, booking_fee_cents,
		       increment_fee_cents, non_prime_fee_per_head_cents, region
		FROM venues WHERE id = $1`, id,
	).Scan(&v.ID, &v.UserID, &v.Name, &pct, &v.BookingFeeCents,
		&v.IncrementFeeCents, &v.NonPrimeFeePerHeadCents, &v.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get venue: %w", err)
	}
	if v.PayoutVenuePercentage, err = parseNullDecimal(pct); err != nil {
		return nil, fmt.Errorf("venue %s payout_venue_percentage: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SaveConcierge(ctx context.Context, c earnings.Concierge) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO concierges (id, user_id, name, payout_percentage, charity_percentage, referring_concierge_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			payout_percentage = EXCLUDED.payout_percentage,
			charity_percentage = EXCLUDED.charity_percentage,
			referring_concierge_id = EXCLUDED.referring_concierge_id`,
		c.ID, c.UserID, c.Name, decimalArg(c.PayoutPercentage),
		c.CharityPercentage.String(), textArg(c.ReferringConciergeID),
	)
	if err != nil {
		return fmt.Errorf("save concierge: %w", err)
	}
	return nil
}

func (s *Store) GetConcierge(ctx context.Context, id string) (*earnings.Concierge, error) {
	var (
		c        earnings.Concierge
		pct      *string
		charity  string
		referrer *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, payout_percentage::text, charity_percentage::text, referring_concierge_id
		FROM concierges WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &pct, &charity, &referrer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get concierge: %w", err)
	}
	if c.PayoutPercentage, err = parseNullDecimal(pct); err != nil {
		return nil, fmt.Errorf("concierge %s payout_percentage: %w", id, err)
	}
	if c.CharityPercentage, err = decimal.NewFromString(charity); err != nil {
		return nil, fmt.Errorf("concierge %s charity_percentage: %w", id, err)
	}
	if referrer != nil {
		c.ReferringConciergeID = *referrer
	}
	return &c, nil
}

func (s *Store) SavePartner(ctx context.Context, p earnings.Partner) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO partners (id, user_id, name, percentage, suppress_referrals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			percentage = EXCLUDED.percentage,
			suppress_referrals = EXCLUDED.suppress_referrals`,
		p.ID, p.UserID, p.Name, decimalArg(p.Percentage), p.SuppressReferrals,
	)
	if err != nil {
		return fmt.Errorf("save partner: %w", err)
	}
	return nil
}

func (s *Store) GetPartner(ctx context.Context, id string) (*earnings.Partner, error) {
	var (
		p   earnings.Partner
		pct *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, percentage::text, suppress_referrals FROM partners WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &pct, &p.SuppressReferrals)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
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

// SaveBooking upserts a booking on behalf of the booking workflow.
func (s *Store) SaveBooking(ctx context.Context, b earnings.Booking) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			total_fee_cents = EXCLUDED.total_fee_cents,
			guest_count = EXCLUDED.guest_count,
			currency = EXCLUDED.currency,
			is_prime = EXCLUDED.is_prime,
			status = EXCLUDED.status,
			schedule_reference = EXCLUDED.schedule_reference,
			venue_id = EXCLUDED.venue_id,
			concierge_id = EXCLUDED.concierge_id,
			partner_concierge_id = EXCLUDED.partner_concierge_id,
			partner_venue_id = EXCLUDED.partner_venue_id,
			paid_at_venue = EXCLUDED.paid_at_venue,
			tax_region = EXCLUDED.tax_region,
			tax_amount_cents = EXCLUDED.tax_amount_cents,
			total_with_tax_cents = EXCLUDED.total_with_tax_cents,
			confirmed_at = EXCLUDED.confirmed_at`,
		b.ID, b.TotalFeeCents, b.GuestCount, b.Currency, b.IsPrime, string(b.Status),
		b.ScheduleReference, b.VenueID, b.ConciergeID,
		textArg(b.PartnerConciergeID), textArg(b.PartnerVenueID), b.PaidAtVenue,
		textArg(b.TaxRegion), b.TaxAmountCents, b.TotalWithTaxCents, b.ConfirmedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("save booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*earnings.Booking, error) {
	return scanBooking(s.db.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id))
}

func scanBooking(row pgx.Row) (*earnings.Booking, error) {
	var (
		b                                      earnings.Booking
		status                                 string
		partnerConcierge, partnerVenue, region *string
	)
	err := row.Scan(
		&b.ID, &b.TotalFeeCents, &b.GuestCount, &b.Currency, &b.IsPrime, &status,
		&b.ScheduleReference, &b.VenueID, &b.ConciergeID, &partnerConcierge, &partnerVenue,
		&b.PaidAtVenue, &region, &b.TaxAmountCents, &b.TotalWithTaxCents, &b.ConfirmedAt, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = earnings.BookingStatus(status)
	b.PartnerConciergeID = deref(partnerConcierge)
	b.PartnerVenueID = deref(partnerVenue)
	b.TaxRegion = deref(region)
	return &b, nil
}

func (s *Store) SelectBookings(ctx context.Context, sel earnings.Selection) ([]string, error) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`
		SELECT b.id FROM bookings b
		LEFT JOIN concierges c1 ON c1.id = b.concierge_id
		LEFT JOIN concierges c2 ON c2.id = c1.referring_concierge_id
		WHERE TRUE`)
	if len(sel.BookingIDs) > 0 {
		sb.WriteString(" AND b.id = ANY(" + arg(sel.BookingIDs) + ")")
	}
	if len(sel.Statuses) > 0 {
		statuses := make([]string, len(sel.Statuses))
		for i, st := range sel.Statuses {
			statuses[i] = string(st)
		}
		sb.WriteString(" AND b.status = ANY(" + arg(statuses) + ")")
	}
	if sel.VenueID != "" {
		sb.WriteString(" AND b.venue_id = " + arg(sel.VenueID))
	}
	if sel.ConciergeID != "" {
		sb.WriteString(" AND b.concierge_id = " + arg(sel.ConciergeID))
	}
	if sel.PartnerID != "" {
		p := arg(sel.PartnerID)
		sb.WriteString(" AND (b.partner_concierge_id = " + p + " OR b.partner_venue_id = " + p + ")")
	}
	if sel.ReferrerID != "" {
		r := arg(sel.ReferrerID)
		sb.WriteString(" AND (b.concierge_id = " + r + " OR c1.referring_concierge_id = " + r +
			" OR c2.referring_concierge_id = " + r + ")")
	}
	sb.WriteString(" ORDER BY b.id")

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	return ids, nil
}

// =============================================================================
// EARNINGS
// =============================================================================

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) LoadEarnings(ctx context.Context, bookingID string) ([]earnings.Earning, error) {
	return loadEarnings(ctx, s.db, bookingID)
}

func loadEarnings(ctx context.Context, q querier, bookingID string) ([]earnings.Earning, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, booking_id, user_id, type, amount_cents, currency, percentage::text,
		       percentage_of, confirmed_at
		FROM earnings WHERE booking_id = $1`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load earnings: %w", err)
	}
	defer rows.Close()

	var out []earnings.Earning
	for rows.Next() {
		var (
			e   earnings.Earning
			typ string
			pct string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.UserID, &typ, &e.AmountCents, &e.Currency,
			&pct, &e.PercentageOf, &e.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		e.Type = earnings.EarningType(typ)
		if e.Percentage, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("earning %s percentage: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	earnings.SortEarnings(out)
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a read-committed transaction, rolled back on error.
func (s *Store) WithTx(ctx context.Context, fn func(earnings.LedgerTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) LockBooking(ctx context.Context, bookingID string) (*earnings.Booking, error) {
	if _, err := ts.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", bookingID); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	return scanBooking(ts.tx.QueryRow(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", bookingID))
}

func (ts *txStore) LoadEarnings(ctx context.Context, bookingID string) ([]earnings.Earning, error) {
	return loadEarnings(ctx, ts.tx, bookingID)
}

func (ts *txStore) DeleteEarnings(ctx context.Context, bookingID string) error {
	if _, err := ts.tx.Exec(ctx, "DELETE FROM earnings WHERE booking_id = $1", bookingID); err != nil {
		return fmt.Errorf("delete earnings: %w", err)
	}
	return nil
}

func (ts *txStore) InsertEarnings(ctx context.Context, rows []earnings.Earning) error {
	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(`
			INSERT INTO earnings (id, booking_id, user_id, type, amount_cents, currency,
				percentage, percentage_of, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.BookingID, e.UserID, string(e.Type), e.AmountCents, e.Currency,
			e.Percentage.String(), e.PercentageOf, e.ConfirmedAt,
		)
	}
	if err := ts.tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("duplicate earning for booking: %w", err)
		}
		return fmt.Errorf("insert earnings: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateBookingTax(ctx context.Context, bookingID string, tax earnings.BookingTax) error {
	_, err := ts.tx.Exec(ctx,
		"UPDATE bookings SET tax_amount_cents = $1, total_with_tax_cents = $2 WHERE id = $3",
		tax.TaxAmountCents, tax.TotalWithTaxCents, bookingID,
	)
	if err != nil {
		return fmt.Errorf("update booking tax: %w", err)
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
	_, err = ts.tx.Exec(ctx, `
		INSERT INTO audit_log (id, booking_id, action, actor, reason, before_json, after_json,
			tax_before_json, tax_after_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.BookingID, string(a.Action), a.Actor, a.Reason, before, after,
		taxJSON(a.TaxBefore), taxJSON(a.TaxAfter), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// =============================================================================
// EARNING ERRORS
// =============================================================================

func (s *Store) RecordEarningError(ctx context.Context, e earnings.EarningError) error {
	snapshot, err := json.Marshal(nonNil(e.Snapshot))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO earning_errors (id, booking_id, kind, message, snapshot_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.BookingID, e.Kind, e.Message, snapshot, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record earning error: %w", err)
	}
	return nil
}

func (s *Store) ListEarningErrors(ctx context.Context, bookingID string, limit int) ([]earnings.EarningError, error) {
	query := `SELECT id::text, booking_id, kind, message, snapshot_json, created_at FROM earning_errors`
	var args []any
	if bookingID != "" {
		args = append(args, bookingID)
		query += " WHERE booking_id = $1"
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list earning errors: %w", err)
	}
	defer rows.Close()

	var out []earnings.EarningError
	for rows.Next() {
		var (
			e        earnings.EarningError
			snapshot []byte
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Kind, &e.Message, &snapshot, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning error: %w", err)
		}
		if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Helper functions

func textArg(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func taxJSON(t *earnings.BookingTax) []byte {
	if t == nil {
		return nil
	}
	b, _ := json.Marshal(t)
	return b
}

func nonNil(es []earnings.Earning) []earnings.Earning {
	if es == nil {
		return []earnings.Earning{}
	}
	return es
}
