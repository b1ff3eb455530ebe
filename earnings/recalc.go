/*
recalc.go - Batch recalculation of booking earnings

PURPOSE:
  Fixes historical data after a referral-chain correction, a partner
  percentage change, a guest-count edit or a schedule correction. The
  driver fans the single-booking pipeline out over a selection of bookings.

GUARANTEES:
  - Failure isolation: one booking's error is recorded as an EarningError
    and never halts the batch
  - Dry run: produces the same before/after diffs as a live run without
    touching the ledger (no rows, no audit, no EarningError)
  - Bounded parallelism: at most Options.Workers bookings in flight
  - Cancellation: a cancelled context stops new bookings from being
    submitted; bookings already in flight finish their transaction

USAGE:
  driver := earnings.NewRecalculationDriver(engine)
  report, err := driver.Recalculate(ctx,
      earnings.Selection{PartnerID: "partner-7"},
      earnings.Options{DryRun: true, Workers: 8})
*/
package earnings

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

var ErrEmptySelection = errors.New("selection matches nothing: set booking ids, a filter or All")

// =============================================================================
// SELECTION AND OPTIONS
// =============================================================================

// Selection picks bookings for recalculation. Store-level fields combine
// with AND; Filter is applied afterwards to each loaded booking.
type Selection struct {
	All         bool
	BookingIDs  []string
	VenueID     string
	ConciergeID string
	ReferrerID  string // bookings whose concierge chain includes this concierge
	PartnerID   string // as partner concierge or partner venue
	Statuses    []BookingStatus
	Filter      func(Booking) bool
}

func (s Selection) IsEmpty() bool {
	return !s.All && len(s.BookingIDs) == 0 && s.VenueID == "" && s.ConciergeID == "" &&
		s.ReferrerID == "" && s.PartnerID == "" && len(s.Statuses) == 0 && s.Filter == nil
}

type Options struct {
	DryRun  bool
	Verbose bool // include unchanged bookings in Diffs
	Workers int
	Actor   string
	Reason  string
}

// =============================================================================
// REPORT
// =============================================================================

type Failure struct {
	BookingID string
	Kind      string
	Message   string
}

// TypeDelta is one earning type's before/after amount for a booking.
type TypeDelta struct {
	Type        EarningType
	BeforeCents int64
	AfterCents  int64
}

type BookingDiff struct {
	BookingID string
	Changed   bool
	Before    []Earning
	After     []Earning
	ByType    []TypeDelta
}

type BatchReport struct {
	DryRun           bool
	Processed        int
	Updated          int
	Unchanged        int
	Failed           []Failure
	FailedBookingIDs []string
	Diffs            []BookingDiff
	NotSubmitted     int // left over after cancellation
	StartedAt        time.Time
	FinishedAt       time.Time
}

// =============================================================================
// DRIVER
// =============================================================================

type RecalculationDriver struct {
	Engine *Engine
	Logger *slog.Logger
	Now    func() time.Time
}

func NewRecalculationDriver(engine *Engine) *RecalculationDriver {
	return &RecalculationDriver{Engine: engine, Logger: engine.Logger}
}

type outcome struct {
	diff    BookingDiff
	failure *Failure
}

// Recalculate runs the pipeline over every selected booking. The returned
// error is non-nil only when the selection itself cannot be resolved.
func (d *RecalculationDriver) Recalculate(ctx context.Context, sel Selection, opts Options) (BatchReport, error) {
	report := BatchReport{DryRun: opts.DryRun, StartedAt: d.now()}
	if sel.IsEmpty() {
		return report, ErrEmptySelection
	}

	ids, err := d.resolve(ctx, sel)
	if err != nil {
		return report, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)

	// In-flight bookings run to completion even if ctx is cancelled.
	work := context.WithoutCancel(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			report.NotSubmitted = len(ids) - i
			break
		}
		id := id
		g.Go(func() error {
			out := d.processOne(work, id, opts)
			mu.Lock()
			defer mu.Unlock()
			report.add(out, opts.Verbose)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].BookingID < report.Failed[j].BookingID })
	sort.Strings(report.FailedBookingIDs)
	sort.Slice(report.Diffs, func(i, j int) bool { return report.Diffs[i].BookingID < report.Diffs[j].BookingID })
	report.FinishedAt = d.now()

	d.logger().Info("recalculation finished",
		"dry_run", opts.DryRun,
		"processed", report.Processed,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", len(report.Failed),
		"not_submitted", report.NotSubmitted,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func (r *BatchReport) add(out outcome, verbose bool) {
	r.Processed++
	switch {
	case out.failure != nil:
		r.Failed = append(r.Failed, *out.failure)
		r.FailedBookingIDs = append(r.FailedBookingIDs, out.failure.BookingID)
	case out.diff.Changed:
		r.Updated++
		r.Diffs = append(r.Diffs, out.diff)
	default:
		r.Unchanged++
		if verbose {
			r.Diffs = append(r.Diffs, out.diff)
		}
	}
}

func (d *RecalculationDriver) resolve(ctx context.Context, sel Selection) ([]string, error) {
	ids, err := d.Engine.Store.SelectBookings(ctx, sel)
	if err != nil {
		return nil, &PersistenceError{Op: "select_bookings", Err: err}
	}
	if sel.Filter == nil {
		return ids, nil
	}
	kept := ids[:0]
	for _, id := range ids {
		b, err := d.Engine.Store.GetBooking(ctx, id)
		if err != nil {
			return nil, &PersistenceError{Op: "load_booking", BookingID: id, Err: err}
		}
		if b != nil && sel.Filter(*b) {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

func (d *RecalculationDriver) processOne(ctx context.Context, id string, opts Options) outcome {
	e := d.Engine
	b, err := e.getBooking(ctx, id)
	if err != nil {
		return d.fail(ctx, id, err, nil, opts)
	}

	before, err := e.Store.LoadEarnings(ctx, id)
	if err != nil {
		return d.fail(ctx, id, &PersistenceError{Op: "load_earnings", BookingID: id, Err: err}, nil, opts)
	}
	snapshot := func(comp Computation) []Earning {
		if comp.Earnings == nil {
			return before
		}
		return comp.Earnings
	}

	var diff BookingDiff
	if opts.DryRun {
		comp, err := e.Compute(ctx, *b)
		if err != nil {
			return d.fail(ctx, id, err, snapshot(comp), opts)
		}
		diff = BookingDiff{BookingID: id, Before: before, After: comp.Earnings}
		diff.Changed = !SameEarnings(before, comp.Earnings) ||
			(comp.Tax != nil && !sameTax(b.Tax(), comp.Tax))
	} else {
		comp, res, err := e.computeAndReplace(ctx, *b, actorOr(opts.Actor), opts.Reason, false)
		if err != nil {
			return d.fail(ctx, id, err, snapshot(comp), opts)
		}
		diff = BookingDiff{BookingID: id, Before: res.Before, After: comp.Earnings, Changed: res.Changed}
	}
	diff.ByType = Breakdown(diff.Before, diff.After)
	return outcome{diff: diff}
}

func (d *RecalculationDriver) fail(ctx context.Context, id string, err error, snapshot []Earning, opts Options) outcome {
	kind := ErrorKind(err)
	f := &Failure{BookingID: id, Kind: kind, Message: err.Error()}

	level := slog.LevelWarn
	if errors.Is(err, ErrRoundingInvariant) || errors.Is(err, ErrPersistence) {
		level = slog.LevelError
	}
	d.logger().Log(ctx, level, "booking recalculation failed",
		"booking_id", id,
		"kind", kind,
		"dry_run", opts.DryRun,
		"error", err,
	)

	if opts.DryRun {
		return outcome{failure: f}
	}
	rec := EarningError{
		ID:        uuid.NewString(),
		BookingID: id,
		Kind:      kind,
		Message:   err.Error(),
		Snapshot:  snapshot,
		CreatedAt: d.now(),
	}
	if rerr := d.Engine.Store.RecordEarningError(ctx, rec); rerr != nil {
		d.logger().Error("failed to record earning error", "booking_id", id, "error", rerr)
	}
	return outcome{failure: f}
}

// Breakdown lists before/after amounts per earning type, canonical order.
func Breakdown(before, after []Earning) []TypeDelta {
	idx := make(map[EarningType]int)
	var out []TypeDelta
	slot := func(t EarningType) *TypeDelta {
		if i, ok := idx[t]; ok {
			return &out[i]
		}
		idx[t] = len(out)
		out = append(out, TypeDelta{Type: t})
		return &out[len(out)-1]
	}
	for _, e := range before {
		slot(e.Type).BeforeCents += e.AmountCents
	}
	for _, e := range after {
		slot(e.Type).AfterCents += e.AmountCents
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Type.Priority() < out[j].Type.Priority() })
	return out
}

func actorOr(actor string) string {
	if actor == "" {
		return "recalculation"
	}
	return actor
}

func (d *RecalculationDriver) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *RecalculationDriver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return d.Engine.logger()
}
