package earnings

import (
	"context"
	"errors"
	"log/slog"
)

// =============================================================================
// ENGINE - single booking pipeline
// =============================================================================
// The booking workflow calls the engine explicitly at state transitions;
// nothing here runs as a side effect of saving a booking.
//
//   confirmation       -> ComputeAndPersistEarnings
//   any other change   -> SyncEarnings (cancel/abandon clears the set)

// Engine wires rate resolution, tax, allocation and the ledger writer.
type Engine struct {
	Store  TxStore
	Rates  RateResolver
	Tax    *TaxCalculator
	Writer *LedgerWriter
	Logger *slog.Logger
}

func NewEngine(store TxStore, cfg RateConfig, tax *TaxCalculator) *Engine {
	if tax == nil {
		tax = NewTaxCalculator(DefaultJurisdictions())
	}
	return &Engine{
		Store:  store,
		Rates:  NewRateResolver(cfg),
		Tax:    tax,
		Writer: NewLedgerWriter(store),
	}
}

// WithLogger sets the logger on the engine and its ledger writer.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.Logger = l
	e.Writer.Logger = l
	return e
}

// Computation is the full outcome of the pipeline for one booking, before
// anything is written.
type Computation struct {
	Booking   Booking
	Lines     []RateLine
	Earnings  []Earning
	Tax       *BookingTax
	TaxResult TaxResult
}

// Compute runs resolution, tax and allocation for a booking. Bookings that
// are not payable compute to an empty earning set and no tax.
func (e *Engine) Compute(ctx context.Context, b Booking) (Computation, error) {
	comp := Computation{Booking: b}
	if !b.Status.IsPayable() {
		return comp, nil
	}

	in, err := e.loadRateInput(ctx, b)
	if err != nil {
		return comp, err
	}
	lines, err := e.Rates.Resolve(in)
	if err != nil {
		return comp, err
	}
	comp.Lines = lines

	key := JurisdictionKey(b, in.Venue)
	comp.TaxResult = e.Tax.Calculate(key, b.TotalFeeCents)
	if !comp.TaxResult.Known {
		warn := &TaxLookupWarning{BookingID: b.ID, Jurisdiction: key}
		e.logger().Warn(warn.Error(), "booking_id", b.ID, "jurisdiction", key)
	}
	comp.Tax = &BookingTax{
		TaxAmountCents:    comp.TaxResult.AmountCents,
		TotalWithTaxCents: b.TotalFeeCents + comp.TaxResult.AmountCents,
		Region:            key,
	}

	allocs, err := Allocate(b.TotalFeeCents, lines)
	if err != nil {
		var v *RoundingInvariantViolation
		if errors.As(err, &v) {
			v.BookingID = b.ID
			e.logger().Error("rounding invariant violated",
				"booking_id", b.ID,
				"total_fee_cents", v.TotalFeeCents,
				"allocated_cents", v.AllocatedCents,
				"detail", v.Detail,
			)
		}
		return comp, err
	}
	comp.Earnings = buildEarnings(b, allocs)
	return comp, nil
}

func buildEarnings(b Booking, allocs []Allocation) []Earning {
	out := make([]Earning, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, Earning{
			ID:           EarningID(b.ID, a.Line.Type, a.Line.UserID),
			BookingID:    b.ID,
			UserID:       a.Line.UserID,
			Type:         a.Line.Type,
			AmountCents:  a.AmountCents,
			Currency:     b.Currency,
			Percentage:   a.Line.Percentage,
			PercentageOf: a.Line.PercentageOf,
			ConfirmedAt:  b.ConfirmedAt,
		})
	}
	SortEarnings(out)
	return out
}

// ComputeAndPersistEarnings is the confirmation-time entry point. Errors are
// returned to the booking workflow so confirmation can be retried or flagged.
func (e *Engine) ComputeAndPersistEarnings(ctx context.Context, bookingID string) (ReplaceResult, error) {
	b, err := e.getBooking(ctx, bookingID)
	if err != nil {
		return ReplaceResult{}, err
	}
	return e.persist(ctx, *b, "booking_workflow", "confirmed", true)
}

// SyncEarnings brings a booking's persisted earnings in line with its
// current state: payable bookings are recomputed, all others are cleared.
func (e *Engine) SyncEarnings(ctx context.Context, bookingID, reason string) (ReplaceResult, error) {
	b, err := e.getBooking(ctx, bookingID)
	if err != nil {
		return ReplaceResult{}, err
	}
	return e.persist(ctx, *b, "booking_workflow", reason, false)
}

// Preview computes a booking without writing, returning the persisted set
// alongside for comparison.
func (e *Engine) Preview(ctx context.Context, bookingID string) (Computation, []Earning, error) {
	b, err := e.getBooking(ctx, bookingID)
	if err != nil {
		return Computation{}, nil, err
	}
	current, err := e.Store.LoadEarnings(ctx, bookingID)
	if err != nil {
		return Computation{}, nil, &PersistenceError{Op: "load_earnings", BookingID: bookingID, Err: err}
	}
	comp, err := e.Compute(ctx, *b)
	return comp, current, err
}

func (e *Engine) persist(ctx context.Context, b Booking, actor, reason string, requirePayable bool) (ReplaceResult, error) {
	comp, res, err := e.computeAndReplace(ctx, b, actor, reason, requirePayable)
	if err != nil {
		return ReplaceResult{}, err
	}
	e.logger().Info("earnings synced",
		"booking_id", comp.Booking.ID,
		"status", string(comp.Booking.Status),
		"changed", res.Changed,
		"rows", len(res.After),
		"total_fee_cents", comp.Booking.TotalFeeCents,
	)
	return res, nil
}

// maxConflictAttempts bounds how often a booking that keeps changing under
// the engine is re-read and recomputed before giving up.
const maxConflictAttempts = 3

// computeAndReplace computes b and hands the set to the ledger writer along
// with b itself. If the booking changed before the writer locked it, the
// booking is read again and the computation repeated.
func (e *Engine) computeAndReplace(ctx context.Context, b Booking, actor, reason string, requirePayable bool) (Computation, ReplaceResult, error) {
	for attempt := 1; ; attempt++ {
		if requirePayable && !b.Status.IsPayable() {
			return Computation{Booking: b}, ReplaceResult{}, ErrBookingNotPayable
		}
		comp, err := e.Compute(ctx, b)
		if err != nil {
			return comp, ReplaceResult{}, err
		}
		source := comp.Booking
		res, err := e.Writer.ReplaceEarnings(ctx, Replacement{
			BookingID: b.ID,
			Earnings:  comp.Earnings,
			Tax:       comp.Tax,
			Source:    &source,
			Actor:     actor,
			Reason:    reason,
		})
		if err == nil || !errors.Is(err, ErrBookingConflict) || attempt == maxConflictAttempts {
			return comp, res, err
		}
		e.logger().Info("booking changed during computation, recomputing",
			"booking_id", b.ID,
			"attempt", attempt,
			"error", err,
		)
		fresh, err := e.getBooking(ctx, b.ID)
		if err != nil {
			return comp, ReplaceResult{}, err
		}
		b = *fresh
	}
}

func (e *Engine) getBooking(ctx context.Context, id string) (*Booking, error) {
	b, err := e.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load_booking", BookingID: id, Err: err}
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// loadRateInput fetches the venue, concierge chain and partners. Missing
// records are left nil for the resolver to report.
func (e *Engine) loadRateInput(ctx context.Context, b Booking) (RateInput, error) {
	in := RateInput{Booking: b}
	fail := func(err error) (RateInput, error) {
		return RateInput{}, &PersistenceError{Op: "load_rate_input", BookingID: b.ID, Err: err}
	}

	var err error
	if in.Venue, err = e.Store.GetVenue(ctx, b.VenueID); err != nil {
		return fail(err)
	}
	if in.Concierge, err = e.Store.GetConcierge(ctx, b.ConciergeID); err != nil {
		return fail(err)
	}
	if in.Concierge != nil && in.Concierge.ReferringConciergeID != "" {
		if in.Level1, err = e.Store.GetConcierge(ctx, in.Concierge.ReferringConciergeID); err != nil {
			return fail(err)
		}
		if in.Level1 != nil && in.Level1.ReferringConciergeID != "" {
			if in.Level2, err = e.Store.GetConcierge(ctx, in.Level1.ReferringConciergeID); err != nil {
				return fail(err)
			}
		}
	}
	if b.PartnerConciergeID != "" {
		if in.PartnerConcierge, err = e.Store.GetPartner(ctx, b.PartnerConciergeID); err != nil {
			return fail(err)
		}
	}
	if b.PartnerVenueID != "" {
		if in.PartnerVenue, err = e.Store.GetPartner(ctx, b.PartnerVenueID); err != nil {
			return fail(err)
		}
	}
	return in, nil
}

func (e *Engine) logger() *slog.Logger {
	return resolveLogger(e.Logger)
}
