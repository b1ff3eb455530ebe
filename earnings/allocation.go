/*
allocation.go - Largest-remainder allocation of a fee across rate lines

ALGORITHM:
  1. exact_i  = total * share_i / 100        (exact, decimal)
  2. base_i   = floor(exact_i)
  3. leftover = total - sum(base_i)          (0 <= leftover < len(lines))
  4. give one cent to each of the `leftover` lines with the largest
     fractional remainder exact_i - base_i

TIE-BREAKING:
  Equal remainders are ordered by earning type priority (primary payee
  first, platform last), then by input order. The result is therefore a
  pure function of its inputs, which is what makes recomputation idempotent.

EXAMPLE:
  total 1000, shares 33.33 / 33.33 / 33.34
  exact  333.3 / 333.3 / 333.4   base 333 / 333 / 333   leftover 1
  largest remainder is the third line -> 333 / 333 / 334
*/
package earnings

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Allocation struct {
	Line        RateLine
	AmountCents int64
}

// Allocate splits totalFeeCents across lines. The shares must sum to exactly
// 100 and the returned amounts always sum to totalFeeCents.
func Allocate(totalFeeCents int64, lines []RateLine) ([]Allocation, error) {
	if totalFeeCents < 0 {
		return nil, ErrNegativeFee
	}
	if len(lines) == 0 {
		if totalFeeCents == 0 {
			return nil, nil
		}
		return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents, Detail: "no rate lines"}
	}

	shares := decimal.Zero
	for _, l := range lines {
		if l.Share.IsNegative() {
			return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents,
				Detail: fmt.Sprintf("negative share %s for %s", l.Share, l.Type)}
		}
		shares = shares.Add(l.Share)
	}
	if !shares.Equal(hundred) {
		return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents,
			Detail: fmt.Sprintf("shares sum to %s, not 100", shares)}
	}

	total := decimal.NewFromInt(totalFeeCents)
	out := make([]Allocation, len(lines))
	remainders := make([]decimal.Decimal, len(lines))
	var floored int64
	for i, l := range lines {
		exact := total.Mul(l.Share).Shift(-2)
		base := exact.Floor()
		out[i] = Allocation{Line: l, AmountCents: base.IntPart()}
		remainders[i] = exact.Sub(base)
		floored += out[i].AmountCents
	}

	leftover := totalFeeCents - floored
	if leftover < 0 || leftover > int64(len(lines)) {
		return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents, AllocatedCents: floored,
			Detail: fmt.Sprintf("leftover %d cents cannot be spread over %d lines", leftover, len(lines))}
	}

	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if c := remainders[ia].Cmp(remainders[ib]); c != 0 {
			return c > 0
		}
		return lines[ia].Type.Priority() < lines[ib].Type.Priority()
	})
	for k := int64(0); k < leftover; k++ {
		out[order[k]].AmountCents++
	}

	var allocated int64
	for _, a := range out {
		if a.AmountCents < 0 {
			return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents, Detail: "negative allocation"}
		}
		allocated += a.AmountCents
	}
	if allocated != totalFeeCents {
		return nil, &RoundingInvariantViolation{TotalFeeCents: totalFeeCents, AllocatedCents: allocated, Detail: "post-allocation sum check"}
	}
	return out, nil
}
