/*
handlers_test.go - HTTP tests for the earnings API

Tests for:
- Confirmation trigger and persisted earnings
- Status and guest-count stubs resyncing earnings
- Preview without writes
- Batch recalculation and earning-error triage
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/store/sqlite"
)

var confirmedAt = time.Date(2025, time.June, 1, 19, 30, 0, 0, time.UTC)

func pct(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// newTestServer returns a router over an in-memory SQLite store seeded with
// one venue, two concierges (c2 referred by c1) and bookings b1 (confirmed),
// b2 (pending) and b-bad (concierge without a payout percentage).
func newTestServer(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()
	h, store := newTestHandler(t)
	return NewRouter(h), store
}

func newTestHandler(t *testing.T) (*Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveVenue(ctx, earnings.Venue{
		ID: "v1", UserID: "u-venue", PayoutVenuePercentage: pct("60"),
		BookingFeeCents: 20000, IncrementFeeCents: 5000, NonPrimeFeePerHeadCents: 1500, Region: "miami",
	}))
	require.NoError(t, store.SaveConcierge(ctx, earnings.Concierge{ID: "c1", UserID: "u-c1", PayoutPercentage: pct("15")}))
	require.NoError(t, store.SaveConcierge(ctx, earnings.Concierge{ID: "c2", UserID: "u-c2", PayoutPercentage: pct("15"), ReferringConciergeID: "c1"}))
	require.NoError(t, store.SaveConcierge(ctx, earnings.Concierge{ID: "c-bad", UserID: "u-bad"}))

	at := confirmedAt
	for _, b := range []earnings.Booking{
		{ID: "b1", TotalFeeCents: 20000, GuestCount: 2, Currency: "USD", IsPrime: true, Status: earnings.StatusConfirmed, VenueID: "v1", ConciergeID: "c2", ConfirmedAt: &at},
		{ID: "b2", TotalFeeCents: 20000, GuestCount: 2, Currency: "USD", IsPrime: true, Status: earnings.StatusPending, VenueID: "v1", ConciergeID: "c1"},
		{ID: "b-bad", TotalFeeCents: 20000, GuestCount: 2, Currency: "USD", IsPrime: true, Status: earnings.StatusConfirmed, VenueID: "v1", ConciergeID: "c-bad", ConfirmedAt: &at},
	} {
		require.NoError(t, store.SaveBooking(ctx, b))
	}

	engine := earnings.NewEngine(store, earnings.DefaultRateConfig(), nil)
	h := NewHandler(store, engine)
	h.Now = func() time.Time { return confirmedAt }
	return h, store
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func byType(es []EarningDTO) map[string]int64 {
	out := make(map[string]int64, len(es))
	for _, e := range es {
		out[e.Type] = e.AmountCents
	}
	return out
}

// =============================================================================
// CONFIRMATION
// =============================================================================

func TestComputeEarnings_ThenGet(t *testing.T) {
	// GIVEN: a confirmed $200 booking by a concierge with one referrer
	// WHEN: the confirmation trigger is called
	// THEN: earnings and tax are persisted and readable

	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/bookings/b1/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sync := decode[SyncResponse](t, rec)
	assert.True(t, sync.Changed)
	assert.NotEmpty(t, sync.AuditID)

	rec = do(t, router, http.MethodGet, "/api/bookings/b1/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[BookingEarningsResponse](t, rec)

	assert.Equal(t, map[string]int64{
		"venue":                      12000,
		"concierge":                  2700,
		"concierge_referral_level_1": 300,
		"platform":                   5000,
	}, byType(got.Earnings))
	assert.Equal(t, int64(20000), got.EarningsCents)
	require.NotNil(t, got.Tax)
	assert.Equal(t, int64(1400), got.Tax.TaxAmountCents)
	assert.Equal(t, int64(21400), got.Tax.TotalWithTaxCents)

	// Second trigger is a no-op.
	rec = do(t, router, http.MethodPost, "/api/bookings/b1/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[SyncResponse](t, rec).Changed)
}

func TestComputeEarnings_ErrorStatuses(t *testing.T) {
	router, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing booking", "/api/bookings/nope/earnings", http.StatusNotFound},
		{"pending booking", "/api/bookings/b2/earnings", http.StatusBadRequest},
		{"rate configuration", "/api/bookings/b-bad/earnings", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetEarnings_NotFound(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/api/bookings/nope/earnings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreviewEarnings_DoesNotWrite(t *testing.T) {
	router, store := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/bookings/b1/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[PreviewResponse](t, rec)
	assert.True(t, got.Payable)
	assert.True(t, got.Changed)
	assert.Len(t, got.Lines, 4)
	assert.Empty(t, got.Current)
	assert.Len(t, got.Computed, 4)
	assert.True(t, got.JurisdictionKnown)

	rows, err := store.LoadEarnings(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// BOOKING WORKFLOW STUBS
// =============================================================================

func TestUpdateStatus_ConfirmThenCancel(t *testing.T) {
	router, store := newTestServer(t)
	ctx := context.Background()

	rec := do(t, router, http.MethodPost, "/api/bookings/b2/status", UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[SyncResponse](t, rec).Changed)

	b, err := store.GetBooking(ctx, "b2")
	require.NoError(t, err)
	require.NotNil(t, b.ConfirmedAt)
	assert.True(t, b.ConfirmedAt.Equal(confirmedAt))

	rec = do(t, router, http.MethodPost, "/api/bookings/b2/status", UpdateStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SyncResponse](t, rec)
	assert.True(t, resp.Changed)
	assert.Empty(t, resp.Earnings)

	rows, err := store.LoadEarnings(ctx, "b2")
	require.NoError(t, err)
	assert.Empty(t, rows)

	audit, err := store.AuditEntries(ctx, "b2")
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "status:cancelled", audit[1].Reason)
}

func TestUpdateStatus_Validation(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/bookings/b1/status", UpdateStatusRequest{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/bookings/nope/status", UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateGuests_RecomputesFee(t *testing.T) {
	// GIVEN: a confirmed prime booking for 2 guests at $200
	// WHEN: the party grows to 4 ($50 per extra guest)
	// THEN: the fee becomes $300 and earnings are replaced

	router, store := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/bookings/b1/earnings", nil).Code)

	rec := do(t, router, http.MethodPut, "/api/bookings/b1/guests", UpdateGuestsRequest{GuestCount: 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SyncResponse](t, rec)
	assert.True(t, resp.Changed)
	assert.Equal(t, int64(18000), byType(resp.Earnings)["venue"])

	b, err := store.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, b.GuestCount)
	assert.Equal(t, int64(30000), b.TotalFeeCents)

	rec = do(t, router, http.MethodPut, "/api/bookings/b1/guests", UpdateGuestsRequest{GuestCount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BATCH
// =============================================================================

func TestRecalculate_DryRunAndLive(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/recalculate", RecalculateRequest{All: true, DryRun: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dry := decode[RecalculateResponse](t, rec)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.Processed)
	assert.Equal(t, 1, dry.Updated)
	assert.Equal(t, []string{"b-bad"}, dry.FailedBookingIDs)

	rec = do(t, router, http.MethodGet, "/api/earning-errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]EarningErrorDTO](t, rec))

	rec = do(t, router, http.MethodPost, "/api/recalculate", RecalculateRequest{All: true, Reason: "backfill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	live := decode[RecalculateResponse](t, rec)
	assert.Equal(t, 1, live.Updated)
	require.Len(t, live.Diffs, 1)
	assert.Equal(t, "b1", live.Diffs[0].BookingID)

	rec = do(t, router, http.MethodGet, "/api/earning-errors?booking_id=b-bad", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode[[]EarningErrorDTO](t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "rate_configuration", errs[0].Kind)
}

func TestRecalculate_Validation(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/recalculate", RecalculateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/recalculate", RecalculateRequest{Statuses: []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/earning-errors?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
