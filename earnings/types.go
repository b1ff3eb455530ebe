/*
Package earnings provides the booking earnings distribution engine.

PURPOSE:
  For every payable booking this package decides how the booking fee is
  split between the venue, the concierge and its referral chain, partner
  overrides, charity and the platform, and persists that split as a
  replaceable, auditable set of Earning rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: the reservation whose fee is distributed (read-only input)
  - Venue / Concierge / Partner: rate configuration records (read-only)
  - Earning: one payee's slice of one booking's fee
  - EarningType: closed set of earning kinds
  - EarningError: triage record for bookings that failed in a batch

PIPELINE:
  Booking + config -> RateResolver -> Allocate -> LedgerWriter
                   -> TaxCalculator ---------^

DESIGN PRINCIPLES:
  1. Integer cents: every amount is an int64 in minor currency units
  2. Precision: percentages use decimal.Decimal, never float64
  3. Replace, don't patch: a booking's earnings are always written as a
     complete set inside one transaction
  4. Determinism: same inputs produce identical rows, including IDs

SEE ALSO:
  - rates.go: percentage resolution
  - allocation.go: largest-remainder allocation
  - ledger.go: transactional replacement
  - recalc.go: batch recalculation
*/
package earnings

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
	StatusCancelled BookingStatus = "cancelled"
	StatusAbandoned BookingStatus = "abandoned"
)

// IsPayable reports whether a booking in this status owes earnings.
func (s BookingStatus) IsPayable() bool {
	switch s {
	case StatusConfirmed, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

func (s BookingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusNoShow, StatusCancelled, StatusAbandoned:
		return true
	}
	return false
}

// Booking is owned by the booking workflow. The engine reads it and only
// ever writes the tax fields.
type Booking struct {
	ID                 string
	TotalFeeCents      int64
	GuestCount         int
	Currency           string
	IsPrime            bool
	Status             BookingStatus
	ScheduleReference  string
	VenueID            string
	ConciergeID        string
	PartnerConciergeID string
	PartnerVenueID     string
	PaidAtVenue        bool // cash collected at the venue instead of prepaid
	TaxRegion          string
	TaxAmountCents     *int64
	TotalWithTaxCents  *int64
	ConfirmedAt        *time.Time
	CreatedAt          time.Time
}

// BookingTax is the tax portion of a booking the engine is allowed to write.
type BookingTax struct {
	TaxAmountCents    int64  `json:"tax_amount_cents"`
	TotalWithTaxCents int64  `json:"total_with_tax_cents"`
	Region            string `json:"region,omitempty"`
}

// Tax returns the tax currently stored on the booking, or nil if none.
func (b Booking) Tax() *BookingTax {
	if b.TaxAmountCents == nil {
		return nil
	}
	t := &BookingTax{TaxAmountCents: *b.TaxAmountCents, Region: b.TaxRegion}
	if b.TotalWithTaxCents != nil {
		t.TotalWithTaxCents = *b.TotalWithTaxCents
	}
	return t
}

// =============================================================================
// RATE CONFIGURATION RECORDS
// =============================================================================

type Venue struct {
	ID                      string
	UserID                  string
	Name                    string
	PayoutVenuePercentage   decimal.NullDecimal
	BookingFeeCents         int64
	IncrementFeeCents       int64
	NonPrimeFeePerHeadCents int64
	Region                  string
}

type Concierge struct {
	ID                   string
	UserID               string
	Name                 string
	PayoutPercentage     decimal.NullDecimal // whole concierge side, referral levels included
	CharityPercentage    decimal.Decimal     // of the direct concierge's own share
	ReferringConciergeID string
}

// Partner overrides the venue or concierge share for attributed bookings.
type Partner struct {
	ID                string
	UserID            string
	Name              string
	Percentage        decimal.NullDecimal
	SuppressReferrals bool
}

// =============================================================================
// EARNING
// =============================================================================

type EarningType string

const (
	EarningVenue            EarningType = "venue"
	EarningVenuePaid        EarningType = "venue_paid"
	EarningVenuePartner     EarningType = "venue_partner"
	EarningConcierge        EarningType = "concierge"
	EarningConciergePartner EarningType = "concierge_partner"
	EarningReferralLevel1   EarningType = "concierge_referral_level_1"
	EarningReferralLevel2   EarningType = "concierge_referral_level_2"
	EarningCharity          EarningType = "charity"
	EarningPlatform         EarningType = "platform"
)

// earningPriority orders types for remainder tie-breaking and display.
// Primary payees first, platform last.
var earningPriority = map[EarningType]int{
	EarningVenue:            0,
	EarningVenuePaid:        1,
	EarningVenuePartner:     2,
	EarningConcierge:        3,
	EarningConciergePartner: 4,
	EarningReferralLevel1:   5,
	EarningReferralLevel2:   6,
	EarningCharity:          7,
	EarningPlatform:         8,
}

// Priority returns the type's position in the canonical order.
// Unknown types sort after platform.
func (t EarningType) Priority() int {
	if p, ok := earningPriority[t]; ok {
		return p
	}
	return len(earningPriority)
}

func (t EarningType) IsValid() bool {
	_, ok := earningPriority[t]
	return ok
}

// Percentage base tags recorded on each earning.
const (
	OfTotalFee       = "total_fee"
	OfConciergeShare = "concierge_share"
	OfResidual       = "residual"
)

type Earning struct {
	ID           string          `json:"id"`
	BookingID    string          `json:"booking_id"`
	UserID       string          `json:"user_id"`
	Type         EarningType     `json:"type"`
	AmountCents  int64           `json:"amount_cents"`
	Currency     string          `json:"currency"`
	Percentage   decimal.Decimal `json:"percentage"`
	PercentageOf string          `json:"percentage_of"`
	ConfirmedAt  *time.Time      `json:"confirmed_at,omitempty"`
}

// earningNamespace seeds deterministic earning IDs.
var earningNamespace = uuid.MustParse("6f0c6b1e-4a55-4d8e-9f43-2c1d7f0a9b21")

// EarningID derives a stable ID from booking, type and payee so a recompute
// with unchanged inputs yields identical rows.
func EarningID(bookingID string, t EarningType, userID string) string {
	return uuid.NewSHA1(earningNamespace, []byte(bookingID+"|"+string(t)+"|"+userID)).String()
}

// SortEarnings orders earnings canonically: type priority, then payee.
func SortEarnings(es []Earning) {
	sort.SliceStable(es, func(i, j int) bool {
		pi, pj := es[i].Type.Priority(), es[j].Type.Priority()
		if pi != pj {
			return pi < pj
		}
		return es[i].UserID < es[j].UserID
	})
}

// SumCents returns the total of all earning amounts.
func SumCents(es []Earning) int64 {
	var total int64
	for _, e := range es {
		total += e.AmountCents
	}
	return total
}

// SameEarnings compares two sets ignoring order. Rows match on type, payee,
// amount, currency, percentage and percentage base.
func SameEarnings(a, b []Earning) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]Earning(nil), a...)
	y := append([]Earning(nil), b...)
	SortEarnings(x)
	SortEarnings(y)
	for i := range x {
		if x[i].Type != y[i].Type ||
			x[i].UserID != y[i].UserID ||
			x[i].AmountCents != y[i].AmountCents ||
			x[i].Currency != y[i].Currency ||
			x[i].PercentageOf != y[i].PercentageOf ||
			!x[i].Percentage.Equal(y[i].Percentage) {
			return false
		}
	}
	return true
}

func sameTax(a, b *BookingTax) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.TaxAmountCents == b.TaxAmountCents && a.TotalWithTaxCents == b.TotalWithTaxCents
}

// =============================================================================
// TRIAGE AND AUDIT RECORDS
// =============================================================================

// EarningError is written for a booking that failed during a batch run.
// These are never deleted automatically.
type EarningError struct {
	ID        string
	BookingID string
	Kind      string
	Message   string
	Snapshot  []Earning
	CreatedAt time.Time
}

type AuditAction string

const (
	AuditEarningsReplaced AuditAction = "earnings_replaced"
	AuditEarningsCleared  AuditAction = "earnings_cleared"
)

// AuditEntry records one non-no-op ledger replacement.
type AuditEntry struct {
	ID        string
	BookingID string
	Action    AuditAction
	Actor     string
	Reason    string
	Before    []Earning
	After     []Earning
	TaxBefore *BookingTax
	TaxAfter  *BookingTax
	CreatedAt time.Time
}
