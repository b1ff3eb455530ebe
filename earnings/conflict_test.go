package earnings_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/earnings/store"
)

// =============================================================================
// BOOKING CHANGES BETWEEN READ AND LOCK
// =============================================================================

// racingStore edits a booking right after the engine reads it, the way a
// booking workflow write can land between the engine's read and its lock.
type racingStore struct {
	*store.Memory

	mu     sync.Mutex
	edit   func(b *earnings.Booking)
	remain int // edits left; negative means every read
}

func (s *racingStore) GetBooking(ctx context.Context, id string) (*earnings.Booking, error) {
	b, err := s.Memory.GetBooking(ctx, id)
	if err != nil || b == nil {
		return b, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit != nil && s.remain != 0 {
		s.remain--
		changed := *b
		s.edit(&changed)
		if err := s.Memory.SaveBooking(ctx, changed); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *racingStore) arm(times int, edit func(b *earnings.Booking)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edit, s.remain = edit, times
}

func newRacingEngine(t *testing.T) (*earnings.Engine, *racingStore) {
	t.Helper()
	_, mem := newTestEngine(t)
	rs := &racingStore{Memory: mem}
	engine := earnings.NewEngine(rs, earnings.DefaultRateConfig(), nil)
	engine.Writer.Now = func() time.Time { return confirmedAt }
	return engine, rs
}

func TestSyncEarnings_CancelledDuringComputation(t *testing.T) {
	// GIVEN: a confirmed booking with earnings
	// WHEN: it is cancelled after the engine read it but before the write
	// THEN: the stale set is refused, the booking is re-read and cleared

	engine, rs := newRacingEngine(t)
	ctx := context.Background()
	saveBooking(t, rs.Memory, booking("b1", "c1", 10000))
	_, err := engine.ComputeAndPersistEarnings(ctx, "b1")
	require.NoError(t, err)

	rs.arm(1, func(b *earnings.Booking) { b.Status = earnings.StatusCancelled })

	res, err := engine.SyncEarnings(ctx, "b1", "guest_count_changed")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.After)

	rows, err := rs.LoadEarnings(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	audit := rs.AuditEntries("b1")
	require.Len(t, audit, 2)
	assert.Equal(t, earnings.AuditEarningsCleared, audit[1].Action)
}

func TestComputeAndPersist_CancelledDuringComputation(t *testing.T) {
	engine, rs := newRacingEngine(t)
	ctx := context.Background()
	saveBooking(t, rs.Memory, booking("b1", "c1", 10000))

	rs.arm(1, func(b *earnings.Booking) { b.Status = earnings.StatusCancelled })

	_, err := engine.ComputeAndPersistEarnings(ctx, "b1")
	assert.ErrorIs(t, err, earnings.ErrBookingNotPayable)

	rows, err := rs.LoadEarnings(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, rs.AuditEntries("b1"))
}

func TestSyncEarnings_FeeChangedDuringComputation(t *testing.T) {
	// GIVEN: a confirmed $100 booking
	// WHEN: its fee is raised to $150 between the engine's read and write
	// THEN: the persisted set is computed from the $150 booking

	engine, rs := newRacingEngine(t)
	ctx := context.Background()
	saveBooking(t, rs.Memory, booking("b1", "c1", 10000))

	rs.arm(1, func(b *earnings.Booking) { b.TotalFeeCents = 15000 })

	res, err := engine.SyncEarnings(ctx, "b1", "guest_count_changed")
	require.NoError(t, err)
	assert.True(t, res.Changed)

	rows, err := rs.LoadEarnings(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), earnings.SumCents(rows))
	assert.Equal(t, map[earnings.EarningType]int64{
		earnings.EarningVenue:     9000,
		earnings.EarningConcierge: 2250,
		earnings.EarningPlatform:  3750,
	}, amounts(rows))

	got, err := rs.Memory.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1050), *got.TaxAmountCents)
	assert.Equal(t, int64(16050), *got.TotalWithTaxCents)
	assert.Len(t, rs.AuditEntries("b1"), 1)
}

func TestSyncEarnings_BookingKeepsChanging(t *testing.T) {
	// GIVEN: a booking whose fee changes after every read
	// WHEN: earnings are synced directly and through a batch run
	// THEN: the engine gives up with a conflict and writes nothing

	engine, rs := newRacingEngine(t)
	ctx := context.Background()
	saveBooking(t, rs.Memory, booking("b1", "c1", 10000))

	rs.arm(-1, func(b *earnings.Booking) { b.TotalFeeCents += 100 })

	_, err := engine.SyncEarnings(ctx, "b1", "guest_count_changed")
	require.Error(t, err)
	assert.ErrorIs(t, err, earnings.ErrBookingConflict)
	assert.Equal(t, "conflict", earnings.ErrorKind(err))
	assert.False(t, earnings.IsClientError(err))

	report, err := earnings.NewRecalculationDriver(engine).Recalculate(ctx,
		earnings.Selection{BookingIDs: []string{"b1"}}, earnings.Options{})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "conflict", report.Failed[0].Kind)

	rows, err := rs.LoadEarnings(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, rs.AuditEntries("b1"))
}

func TestLedgerWriter_RefusesSetsThatDoNotFitLockedBooking(t *testing.T) {
	_, mem := newTestEngine(t)
	w := earnings.NewLedgerWriter(mem)
	ctx := context.Background()

	confirmed := booking("b1", "c1", 100)
	saveBooking(t, mem, confirmed)
	cancelled := booking("b2", "c1", 100)
	cancelled.Status = earnings.StatusCancelled
	saveBooking(t, mem, cancelled)

	set := func(bookingID string, cents ...int64) []earnings.Earning {
		types := []earnings.EarningType{earnings.EarningVenue, earnings.EarningPlatform}
		out := make([]earnings.Earning, len(cents))
		for i, c := range cents {
			out[i] = earnings.Earning{BookingID: bookingID, Type: types[i], AmountCents: c}
		}
		return out
	}
	stale := confirmed
	stale.TotalFeeCents = 90

	tests := []struct {
		name string
		rep  earnings.Replacement
		want string
	}{
		{"earnings on a cancelled booking", earnings.Replacement{BookingID: "b2", Earnings: set("b2", 60, 40)}, "status is cancelled"},
		{"sum differs from total fee", earnings.Replacement{BookingID: "b1", Earnings: set("b1", 60, 30)}, "earnings sum 90, total fee 100"},
		{"computed from an older booking", earnings.Replacement{BookingID: "b1", Earnings: set("b1", 60, 40), Source: &stale}, "total fee 90 -> 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.ReplaceEarnings(ctx, tt.rep)
			require.Error(t, err)
			assert.ErrorIs(t, err, earnings.ErrBookingConflict)
			assert.NotErrorIs(t, err, earnings.ErrPersistence)
			assert.Contains(t, err.Error(), tt.want)

			rows, err := mem.LoadEarnings(ctx, tt.rep.BookingID)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}

	// Clearing is always allowed.
	res, err := w.ReplaceEarnings(ctx, earnings.Replacement{BookingID: "b2"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
}
