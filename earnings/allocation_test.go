package earnings_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/earnings"
)

func lines(shares ...string) []earnings.RateLine {
	types := []earnings.EarningType{
		earnings.EarningVenue,
		earnings.EarningConcierge,
		earnings.EarningReferralLevel1,
		earnings.EarningReferralLevel2,
		earnings.EarningPlatform,
	}
	out := make([]earnings.RateLine, len(shares))
	for i, s := range shares {
		out[i] = earnings.RateLine{Type: types[i], UserID: fmt.Sprintf("u-%d", i), Share: dec(s)}
	}
	// The last line is always the platform residual.
	out[len(out)-1].Type = earnings.EarningPlatform
	return out
}

func allocated(allocs []earnings.Allocation) []int64 {
	out := make([]int64, len(allocs))
	for i, a := range allocs {
		out[i] = a.AmountCents
	}
	return out
}

// =============================================================================
// LARGEST REMAINDER
// =============================================================================

func TestAllocate_LargestRemainderGetsLeftoverCent(t *testing.T) {
	// GIVEN: 1000 cents over 33.33 / 33.33 / 33.34
	// WHEN: allocating
	// THEN: exact shares are 333.3 / 333.3 / 333.4, the leftover cent goes to the third

	allocs, err := earnings.Allocate(1000, lines("33.33", "33.33", "33.34"))
	require.NoError(t, err)
	assert.Equal(t, []int64{333, 333, 334}, allocated(allocs))
}

func TestAllocate_TiesBreakByEarningTypePriority(t *testing.T) {
	// GIVEN: one cent split 50/50 between venue and platform
	// THEN: remainders tie, venue wins because platform is always last

	allocs, err := earnings.Allocate(1, lines("50", "50"))
	require.NoError(t, err)
	assert.Equal(t, earnings.EarningVenue, allocs[0].Line.Type)
	assert.Equal(t, []int64{1, 0}, allocated(allocs))
}

func TestAllocate_TieBreakIgnoresInputOrder(t *testing.T) {
	// GIVEN: the same lines in reverse order
	// THEN: the cent still goes to the venue line

	ls := lines("50", "50")
	ls[0], ls[1] = ls[1], ls[0]

	allocs, err := earnings.Allocate(1, ls)
	require.NoError(t, err)
	assert.Equal(t, earnings.EarningPlatform, allocs[0].Line.Type)
	assert.Equal(t, []int64{0, 1}, allocated(allocs))
}

func TestAllocate_ReferralChainRounding(t *testing.T) {
	// 999 cents over venue 60, concierge 12.75, L1 1.5, L2 0.75, platform 25
	// exact: 599.4 127.3725 14.985 7.4925 249.75 -> floors sum to 996
	// three leftover cents go to L1 (.985), platform (.75), L2 (.4925)

	allocs, err := earnings.Allocate(999, lines("60", "12.75", "1.5", "0.75", "25"))
	require.NoError(t, err)
	assert.Equal(t, []int64{599, 127, 15, 8, 250}, allocated(allocs))
}

// =============================================================================
// SUM INVARIANT
// =============================================================================

func TestAllocate_SumEqualsTotal(t *testing.T) {
	totals := []int64{0, 1, 2, 3, 7, 99, 100, 101, 999, 1001, 12345, 99999, 1_000_003, 9_999_999, 10_000_000}
	splits := [][]string{
		{"100"},
		{"0", "100"},
		{"100", "0"},
		{"60", "25", "15"},
		{"33.3333", "33.3333", "33.3334"},
		{"60", "12.75", "1.5", "0.75", "25"},
		{"0.01", "0.01", "0.01", "0.01", "99.96"},
	}

	for _, split := range splits {
		for _, total := range totals {
			allocs, err := earnings.Allocate(total, lines(split...))
			require.NoError(t, err, "total=%d split=%v", total, split)
			require.Len(t, allocs, len(split))

			var sum int64
			for _, a := range allocs {
				assert.GreaterOrEqual(t, a.AmountCents, int64(0))
				sum += a.AmountCents
			}
			assert.Equal(t, total, sum, "total=%d split=%v", total, split)
		}
	}
}

func TestAllocate_ZeroTotalYieldsZeroAmountLines(t *testing.T) {
	allocs, err := earnings.Allocate(0, lines("60", "15", "25"))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, allocated(allocs))
}

func TestAllocate_Deterministic(t *testing.T) {
	ls := lines("60", "12.75", "1.5", "0.75", "25")
	first, err := earnings.Allocate(123457, ls)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := earnings.Allocate(123457, ls)
		require.NoError(t, err)
		assert.Equal(t, allocated(first), allocated(again))
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestAllocate_SharesNotSummingTo100(t *testing.T) {
	_, err := earnings.Allocate(1000, lines("60", "30"))

	var v *earnings.RoundingInvariantViolation
	require.ErrorAs(t, err, &v)
	assert.ErrorIs(t, err, earnings.ErrRoundingInvariant)
	assert.Contains(t, v.Detail, "not 100")
}

func TestAllocate_NegativeShare(t *testing.T) {
	_, err := earnings.Allocate(1000, lines("110", "-10"))
	assert.ErrorIs(t, err, earnings.ErrRoundingInvariant)
}

func TestAllocate_NegativeTotal(t *testing.T) {
	_, err := earnings.Allocate(-1, lines("100"))
	assert.ErrorIs(t, err, earnings.ErrNegativeFee)
}

func TestAllocate_NoLines(t *testing.T) {
	allocs, err := earnings.Allocate(0, nil)
	require.NoError(t, err)
	assert.Empty(t, allocs)

	_, err = earnings.Allocate(500, nil)
	assert.ErrorIs(t, err, earnings.ErrRoundingInvariant)
}
