/*
store.go - Persistence interfaces for the earnings engine

PURPOSE:
  Defines the boundary between the engine and the database. Booking and
  rate records are read-only from the engine's point of view; the only
  writes are earning rows, booking tax fields, audit entries and triage
  errors.

KEY INTERFACES:
  Store:     Reads, booking selection, earning-error triage
  LedgerTx:  Operations available inside one replacement transaction
  TxStore:   Store + WithTx, the sole concurrency boundary
  AuditSink: External activity log notified after commit

LOCKING:
  LockBooking must serialise concurrent replacements of the same booking
  until the transaction ends. Different bookings must not block each other
  beyond what the backing database requires.

IMPLEMENTATIONS:
  - earnings/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go:   SQLite (default)
  - store/postgres/postgres.go: PostgreSQL with advisory locks
*/
package earnings

import "context"

// Store reads engine inputs. Get* methods return (nil, nil) when the record
// does not exist.
type Store interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	GetVenue(ctx context.Context, id string) (*Venue, error)
	GetConcierge(ctx context.Context, id string) (*Concierge, error)
	GetPartner(ctx context.Context, id string) (*Partner, error)

	// LoadEarnings returns the persisted earnings of a booking in canonical order.
	LoadEarnings(ctx context.Context, bookingID string) ([]Earning, error)

	// SelectBookings resolves the store-level filters of a selection to
	// booking IDs, sorted ascending. Selection.Filter is applied by the caller.
	SelectBookings(ctx context.Context, sel Selection) ([]string, error)

	RecordEarningError(ctx context.Context, e EarningError) error
	ListEarningErrors(ctx context.Context, bookingID string, limit int) ([]EarningError, error)
}

// LedgerTx is the view of the store inside a replacement transaction.
type LedgerTx interface {
	// LockBooking locks the booking row for the rest of the transaction and
	// returns its current state, or nil if it does not exist.
	LockBooking(ctx context.Context, bookingID string) (*Booking, error)
	LoadEarnings(ctx context.Context, bookingID string) ([]Earning, error)
	DeleteEarnings(ctx context.Context, bookingID string) error
	InsertEarnings(ctx context.Context, earnings []Earning) error
	UpdateBookingTax(ctx context.Context, bookingID string, tax BookingTax) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(LedgerTx) error) error
}

// AuditSink receives one entry per committed, non-no-op replacement.
type AuditSink interface {
	Publish(ctx context.Context, entry AuditEntry) error
}
