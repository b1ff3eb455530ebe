package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/earnings"
)

func TestRetryScheduler_RetriesFixedBooking(t *testing.T) {
	// GIVEN: a batch run that failed b-bad for a missing payout percentage
	// WHEN: the concierge is fixed and the scheduler runs
	// THEN: b-bad is recomputed and the old error is not retried again

	h, store := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Driver.Recalculate(ctx, earnings.Selection{All: true}, earnings.Options{})
	require.NoError(t, err)

	require.NoError(t, store.SaveConcierge(ctx, earnings.Concierge{ID: "c-bad", UserID: "u-bad", PayoutPercentage: pct("10")}))

	rs := NewRetryScheduler(h)
	report := rs.RunNow(ctx)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Updated)
	assert.Empty(t, report.Failed)

	rows, err := store.LoadEarnings(ctx, "b-bad")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), earnings.SumCents(rows))

	audit, err := store.AuditEntries(ctx, "b-bad")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "retry-scheduler", audit[0].Actor)

	// The error row stays for triage but is not retried twice.
	errs, err := store.ListEarningErrors(ctx, "b-bad", 0)
	require.NoError(t, err)
	assert.Len(t, errs, 1)
	assert.Equal(t, 0, rs.RunNow(ctx).Processed)
}

func TestRetryScheduler_GivesUpAfterMaxAttempts(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Driver.Recalculate(ctx, earnings.Selection{BookingIDs: []string{"b-bad"}}, earnings.Options{})
	require.NoError(t, err)

	rs := NewRetryScheduler(h)
	rs.MaxAttempts = 1

	report := rs.RunNow(ctx)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Failed, 1)

	// The retry recorded a fresh error, but the booking is out of attempts.
	errs, err := store.ListEarningErrors(ctx, "b-bad", 0)
	require.NoError(t, err)
	assert.Len(t, errs, 2)
	assert.Equal(t, 0, rs.RunNow(ctx).Processed)
}

func TestRetryScheduler_StartStop(t *testing.T) {
	h, _ := newTestHandler(t)

	rs := NewRetryScheduler(h)
	rs.Start()
	rs.Stop()

	rs = NewRetryScheduler(h)
	rs.Enabled = true
	rs.CheckInterval = time.Hour
	rs.Start()
	assert.Equal(t, confirmedAt.Add(time.Hour), rs.NextRunTime())
	rs.Stop()
}

func TestRetryScheduler_ForgetsErrorsOutsideWindow(t *testing.T) {
	// GIVEN: a scheduler that only inspects the newest error
	// WHEN: each retry of b-bad fails and records a newer error
	// THEN: only the error still in the window is remembered

	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Driver.Recalculate(ctx, earnings.Selection{BookingIDs: []string{"b-bad"}}, earnings.Options{})
	require.NoError(t, err)

	rs := NewRetryScheduler(h)
	rs.BatchSize = 1

	for i := 1; i <= 2; i++ {
		report := rs.RunNow(ctx)
		assert.Equal(t, 1, report.Processed)
		assert.Len(t, rs.seen, 1)
		assert.Equal(t, i, rs.attempts["b-bad"])
	}
}
