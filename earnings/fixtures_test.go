package earnings_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/earnings/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var confirmedAt = time.Date(2025, time.June, 1, 19, 30, 0, 0, time.UTC)

func pct(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEngine returns an engine over a memory store seeded with:
//
//	venue v1       60%, miami
//	concierge c1   15%, no referrer
//	concierge c2   15%, referred by c1
//	concierge c3   15%, referred by c2
//	concierge cc   20%, 10% to charity
//	partner p0     0%
//	partner p7     7%, suppresses referrals
//	partner pv     55% (venue side)
func newTestEngine(t *testing.T) (*earnings.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveVenue(ctx, earnings.Venue{
		ID: "v1", UserID: "u-venue", Name: "Seaside", PayoutVenuePercentage: pct("60"),
		BookingFeeCents: 20000, IncrementFeeCents: 5000, NonPrimeFeePerHeadCents: 1500, Region: "miami",
	}))
	for _, c := range []earnings.Concierge{
		{ID: "c1", UserID: "u-c1", PayoutPercentage: pct("15")},
		{ID: "c2", UserID: "u-c2", PayoutPercentage: pct("15"), ReferringConciergeID: "c1"},
		{ID: "c3", UserID: "u-c3", PayoutPercentage: pct("15"), ReferringConciergeID: "c2"},
		{ID: "cc", UserID: "u-cc", PayoutPercentage: pct("20"), CharityPercentage: dec("10")},
	} {
		require.NoError(t, mem.SaveConcierge(ctx, c))
	}
	for _, p := range []earnings.Partner{
		{ID: "p0", UserID: "u-p0", Percentage: pct("0")},
		{ID: "p7", UserID: "u-p7", Percentage: pct("7"), SuppressReferrals: true},
		{ID: "pv", UserID: "u-pv", Percentage: pct("55")},
	} {
		require.NoError(t, mem.SavePartner(ctx, p))
	}

	engine := earnings.NewEngine(mem, earnings.DefaultRateConfig(), nil)
	engine.Writer.Now = func() time.Time { return confirmedAt }
	return engine, mem
}

func booking(id, conciergeID string, totalCents int64) earnings.Booking {
	at := confirmedAt
	return earnings.Booking{
		ID:            id,
		TotalFeeCents: totalCents,
		GuestCount:    2,
		Currency:      "USD",
		IsPrime:       true,
		Status:        earnings.StatusConfirmed,
		VenueID:       "v1",
		ConciergeID:   conciergeID,
		ConfirmedAt:   &at,
	}
}

func saveBooking(t *testing.T, mem *store.Memory, b earnings.Booking) {
	t.Helper()
	require.NoError(t, mem.SaveBooking(context.Background(), b))
}

// amounts maps earning type to cents.
func amounts(es []earnings.Earning) map[earnings.EarningType]int64 {
	out := make(map[earnings.EarningType]int64, len(es))
	for _, e := range es {
		out[e.Type] += e.AmountCents
	}
	return out
}

// recordingSink captures published audit entries.
type recordingSink struct {
	mu      sync.Mutex
	entries []earnings.AuditEntry
	err     error
}

func (s *recordingSink) Publish(_ context.Context, a earnings.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, a)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
