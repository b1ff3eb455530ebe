/*
errors.go - Centralized error types for the earnings engine

ERROR CATEGORIES:
  1. Configuration errors - missing or out-of-range percentages (fatal per booking)
  2. Invariant errors - allocation did not add up (programming bug, never persisted)
  3. Tax warnings - unknown jurisdiction (non-fatal, tax defaults to zero)
  4. Persistence errors - transaction or write failure (rolled back)
  5. Conflicts - the booking changed between computation and write (retryable)

Callers classify with errors.Is / errors.As, or ErrorKind for reports.
*/
package earnings

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrRateConfiguration   = errors.New("rate configuration error")
	ErrRoundingInvariant   = errors.New("rounding invariant violation")
	ErrPersistence         = errors.New("persistence error")
	ErrUnknownJurisdiction = errors.New("unknown tax jurisdiction")

	// ErrBookingNotFound is returned when the booking id does not resolve.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBookingNotPayable is returned when confirmation-time computation is
	// requested for a booking outside the payable statuses.
	ErrBookingNotPayable = errors.New("booking is not in a payable status")

	ErrNegativeFee = errors.New("total fee cannot be negative")

	// ErrBookingConflict is returned when the locked booking no longer matches
	// the booking an earning set was computed from. Recompute and retry.
	ErrBookingConflict = errors.New("booking changed during earnings computation")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// RateConfigurationError names the record whose configuration prevents
// resolution. The booking must not proceed to allocation.
type RateConfigurationError struct {
	Entity   string // venue, concierge, partner, booking
	EntityID string
	Field    string
	Reason   string
}

func (e *RateConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rate configuration: %s %q: %s", e.Entity, e.EntityID, e.Reason)
	}
	return fmt.Sprintf("rate configuration: %s %q %s: %s", e.Entity, e.EntityID, e.Field, e.Reason)
}

func (e *RateConfigurationError) Unwrap() error { return ErrRateConfiguration }

// RoundingInvariantViolation means the allocated cents do not add up to the
// booking total. It indicates a logic bug and must never be persisted.
type RoundingInvariantViolation struct {
	BookingID      string
	TotalFeeCents  int64
	AllocatedCents int64
	Detail         string
}

func (e *RoundingInvariantViolation) Error() string {
	return fmt.Sprintf("rounding invariant violated for booking %q: total %d, allocated %d (%s)",
		e.BookingID, e.TotalFeeCents, e.AllocatedCents, e.Detail)
}

func (e *RoundingInvariantViolation) Unwrap() error { return ErrRoundingInvariant }

// TaxLookupWarning is logged, never returned to callers of the engine.
type TaxLookupWarning struct {
	BookingID    string
	Jurisdiction string
}

func (e *TaxLookupWarning) Error() string {
	return fmt.Sprintf("no tax rate for jurisdiction %q (booking %s); tax set to zero", e.Jurisdiction, e.BookingID)
}

func (e *TaxLookupWarning) Unwrap() error { return ErrUnknownJurisdiction }

// PersistenceError wraps a store failure. The transaction has been rolled back.
type PersistenceError struct {
	Op        string
	BookingID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s booking %s: %v", e.Op, e.BookingID, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// BookingConflictError describes how the locked booking differs from the
// earning set offered for it. Nothing was written.
type BookingConflictError struct {
	BookingID string
	Detail    string
}

func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("booking %s changed during earnings computation: %s", e.BookingID, e.Detail)
}

func (e *BookingConflictError) Unwrap() error { return ErrBookingConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error comes from the booking or its
// configuration rather than from the engine or the database.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRateConfiguration) ||
		errors.Is(err, ErrBookingNotPayable) ||
		errors.Is(err, ErrNegativeFee)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound)
}

// ErrorKind returns a short label used in batch reports and EarningError rows.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateConfiguration):
		return "rate_configuration"
	case errors.Is(err, ErrRoundingInvariant):
		return "rounding_invariant"
	case errors.Is(err, ErrBookingNotFound):
		return "not_found"
	case errors.Is(err, ErrNegativeFee):
		return "invalid_fee"
	case errors.Is(err, ErrBookingConflict):
		return "conflict"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
