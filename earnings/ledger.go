/*
ledger.go - Transactional replacement of a booking's earnings

PURPOSE:
  LedgerWriter is the only code path that creates or destroys Earning rows.
  A booking's earnings are never patched: the whole set is deleted and the
  new set inserted inside one transaction, so readers either see the old
  complete set or the new complete set.

CRITICAL INVARIANTS:
  1. ATOMIC: delete + insert + tax update + audit commit together or not at all
  2. COMPLETE: rows are only ever written as a full set per booking
  3. SERIALISED: the booking is locked for the duration of the transaction
  4. CURRENT: a set is only written against the booking it was computed
     from; a non-empty set needs a payable booking and must sum to its fee
  5. QUIET NO-OPS: an identical set (order-independent) is not rewritten and
     produces no audit entry

FLOW:
  WithTx
    LockBooking -> checkLocked -> LoadEarnings -> compare
    identical?  -> return (Changed=false)
    otherwise   -> DeleteEarnings -> InsertEarnings -> UpdateBookingTax -> AppendAudit
  commit
  AuditSink.Publish (best effort)
*/
package earnings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Replacement is a complete earning set for one booking.
type Replacement struct {
	BookingID string
	Earnings  []Earning
	Tax       *BookingTax // nil leaves the booking's tax untouched
	Source    *Booking    // booking the set was computed from; checked under the lock
	Actor     string
	Reason    string
}

type ReplaceResult struct {
	BookingID string
	Before    []Earning
	After     []Earning
	Changed   bool
	Audit     *AuditEntry
}

type LedgerWriter struct {
	Store  TxStore
	Sink   AuditSink
	Logger *slog.Logger
	Now    func() time.Time
}

func NewLedgerWriter(store TxStore) *LedgerWriter {
	return &LedgerWriter{Store: store}
}

// ReplaceEarnings atomically replaces the earnings of rep.BookingID.
func (w *LedgerWriter) ReplaceEarnings(ctx context.Context, rep Replacement) (ReplaceResult, error) {
	if err := validateReplacement(rep); err != nil {
		return ReplaceResult{}, err
	}

	res := ReplaceResult{BookingID: rep.BookingID, After: rep.Earnings}
	err := w.Store.WithTx(ctx, func(tx LedgerTx) error {
		booking, err := tx.LockBooking(ctx, rep.BookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrBookingNotFound
		}
		if err := checkLocked(*booking, rep); err != nil {
			return err
		}

		before, err := tx.LoadEarnings(ctx, rep.BookingID)
		if err != nil {
			return err
		}
		res.Before = before

		taxBefore := booking.Tax()
		earningsSame := SameEarnings(before, rep.Earnings)
		taxSame := rep.Tax == nil || sameTax(taxBefore, rep.Tax)
		if earningsSame && taxSame {
			return nil
		}

		if !earningsSame {
			if err := tx.DeleteEarnings(ctx, rep.BookingID); err != nil {
				return err
			}
			if len(rep.Earnings) > 0 {
				if err := tx.InsertEarnings(ctx, rep.Earnings); err != nil {
					return err
				}
			}
		}
		if !taxSame {
			if err := tx.UpdateBookingTax(ctx, rep.BookingID, *rep.Tax); err != nil {
				return err
			}
		}

		entry := AuditEntry{
			ID:        uuid.NewString(),
			BookingID: rep.BookingID,
			Action:    AuditEarningsReplaced,
			Actor:     rep.Actor,
			Reason:    rep.Reason,
			Before:    before,
			After:     rep.Earnings,
			TaxBefore: taxBefore,
			TaxAfter:  rep.Tax,
			CreatedAt: w.now(),
		}
		if len(rep.Earnings) == 0 {
			entry.Action = AuditEarningsCleared
		}
		if rep.Tax == nil {
			entry.TaxAfter = taxBefore
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		res.Changed = true
		res.Audit = &entry
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrBookingConflict) {
			return ReplaceResult{}, err
		}
		return ReplaceResult{}, &PersistenceError{Op: "replace_earnings", BookingID: rep.BookingID, Err: err}
	}

	if res.Changed && w.Sink != nil {
		if err := w.Sink.Publish(ctx, *res.Audit); err != nil {
			resolveLogger(w.Logger).Warn("audit sink publish failed",
				"booking_id", rep.BookingID,
				"audit_id", res.Audit.ID,
				"error", err,
			)
		}
	}
	return res, nil
}

func validateReplacement(rep Replacement) error {
	if rep.BookingID == "" {
		return fmt.Errorf("replace earnings: booking id is required")
	}
	seen := make(map[EarningType]bool, len(rep.Earnings))
	for _, e := range rep.Earnings {
		if e.BookingID != rep.BookingID {
			return fmt.Errorf("replace earnings: earning %s belongs to booking %q, not %q", e.ID, e.BookingID, rep.BookingID)
		}
		if !e.Type.IsValid() {
			return fmt.Errorf("replace earnings: unknown earning type %q", e.Type)
		}
		if seen[e.Type] {
			return fmt.Errorf("replace earnings: duplicate earning type %q", e.Type)
		}
		seen[e.Type] = true
		if e.AmountCents < 0 {
			return &RoundingInvariantViolation{BookingID: rep.BookingID, AllocatedCents: SumCents(rep.Earnings),
				Detail: fmt.Sprintf("negative amount for %s", e.Type)}
		}
	}
	return nil
}

// checkLocked compares the locked booking with the replacement. A stale
// computation or a set that cannot belong to the booking as it stands now
// is refused with a BookingConflictError.
func checkLocked(locked Booking, rep Replacement) error {
	conflict := func(format string, args ...any) error {
		return &BookingConflictError{BookingID: rep.BookingID, Detail: fmt.Sprintf(format, args...)}
	}
	if rep.Source != nil {
		if d := inputDiff(*rep.Source, locked); d != "" {
			return conflict("%s", d)
		}
	}
	if len(rep.Earnings) == 0 {
		return nil
	}
	if !locked.Status.IsPayable() {
		return conflict("status is %s, earnings not allowed", locked.Status)
	}
	if sum := SumCents(rep.Earnings); sum != locked.TotalFeeCents {
		return conflict("earnings sum %d, total fee %d", sum, locked.TotalFeeCents)
	}
	return nil
}

// inputDiff names the first computation input that differs between two
// versions of a booking, or returns "" when they compute the same.
func inputDiff(a, b Booking) string {
	switch {
	case a.Status != b.Status:
		return fmt.Sprintf("status %s -> %s", a.Status, b.Status)
	case a.TotalFeeCents != b.TotalFeeCents:
		return fmt.Sprintf("total fee %d -> %d", a.TotalFeeCents, b.TotalFeeCents)
	case a.Currency != b.Currency:
		return "currency"
	case a.VenueID != b.VenueID, a.PartnerVenueID != b.PartnerVenueID, a.PaidAtVenue != b.PaidAtVenue:
		return "venue attribution"
	case a.ConciergeID != b.ConciergeID, a.PartnerConciergeID != b.PartnerConciergeID:
		return "concierge attribution"
	case a.TaxRegion != b.TaxRegion:
		return "tax region"
	case !sameTime(a.ConfirmedAt, b.ConfirmedAt):
		return "confirmed at"
	}
	return ""
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (w *LedgerWriter) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
