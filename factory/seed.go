/*
Package factory provides JSON to Go conversion for engine configuration.

PURPOSE:
  Converts a JSON seed document into venues, concierges, partners,
  bookings, tax jurisdictions and the platform rate configuration. The
  server loads it at startup (-seed) and tests use it to build fixtures
  without repeating struct literals.

JSON SCHEMA:
  {
    "rates": {
      "platform_user_id": "platform",
      "charity_user_id": "charity",
      "referral_level_1_percentage": 10,
      "referral_level_2_percentage": 5
    },
    "jurisdictions": [
      {"key": "miami", "label": "Miami-Dade, FL", "rate": "7"}
    ],
    "venues": [
      {"id": "v1", "user_id": "u-v1", "payout_venue_percentage": 60,
       "booking_fee_cents": 20000, "increment_fee_cents": 5000,
       "non_prime_fee_per_head_cents": 1500, "region": "miami"}
    ],
    "concierges": [
      {"id": "c1", "user_id": "u-c1", "payout_percentage": 10,
       "charity_percentage": 5, "referring_concierge_id": "c0"}
    ],
    "partners": [
      {"id": "p1", "user_id": "u-p1", "percentage": 7, "suppress_referrals": false}
    ],
    "bookings": [
      {"id": "b1", "venue_id": "v1", "concierge_id": "c1", "guest_count": 4,
       "is_prime": true, "currency": "USD", "status": "confirmed",
       "confirmed_at": "2024-06-01T19:30:00Z"}
    ]
  }

DEFAULTS:
  - rates missing: the factory's base rates (earnings.DefaultRateConfig()
    unless set with WithRates); fields present in "rates" override the base
  - jurisdictions missing: earnings.DefaultJurisdictions()
  - booking total_fee_cents missing: earnings.ScheduleFee of its venue
  - booking currency missing: USD; status missing: pending

Percentages accept JSON numbers or strings; an absent percentage stays
unset so the rate resolver can report it.

SEE ALSO:
  - earnings/types.go: Record definitions
  - cmd/server/main.go: -seed flag
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/earnings"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type SeedJSON struct {
	Rates         *RatesJSON         `json:"rates,omitempty"`
	Jurisdictions []JurisdictionJSON `json:"jurisdictions,omitempty"`
	Venues        []VenueJSON        `json:"venues,omitempty"`
	Concierges    []ConciergeJSON    `json:"concierges,omitempty"`
	Partners      []PartnerJSON      `json:"partners,omitempty"`
	Bookings      []BookingJSON      `json:"bookings,omitempty"`
}

type RatesJSON struct {
	PlatformUserID           string           `json:"platform_user_id"`
	CharityUserID            string           `json:"charity_user_id"`
	ReferralLevel1Percentage *decimal.Decimal `json:"referral_level_1_percentage,omitempty"`
	ReferralLevel2Percentage *decimal.Decimal `json:"referral_level_2_percentage,omitempty"`
}

type JurisdictionJSON struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	Rate  decimal.Decimal `json:"rate"`
}

type VenueJSON struct {
	ID                      string           `json:"id"`
	UserID                  string           `json:"user_id"`
	Name                    string           `json:"name,omitempty"`
	PayoutVenuePercentage   *decimal.Decimal `json:"payout_venue_percentage,omitempty"`
	BookingFeeCents         int64            `json:"booking_fee_cents,omitempty"`
	IncrementFeeCents       int64            `json:"increment_fee_cents,omitempty"`
	NonPrimeFeePerHeadCents int64            `json:"non_prime_fee_per_head_cents,omitempty"`
	Region                  string           `json:"region,omitempty"`
}

type ConciergeJSON struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	Name                 string           `json:"name,omitempty"`
	PayoutPercentage     *decimal.Decimal `json:"payout_percentage,omitempty"`
	CharityPercentage    *decimal.Decimal `json:"charity_percentage,omitempty"`
	ReferringConciergeID string           `json:"referring_concierge_id,omitempty"`
}

type PartnerJSON struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Name              string           `json:"name,omitempty"`
	Percentage        *decimal.Decimal `json:"percentage,omitempty"`
	SuppressReferrals bool             `json:"suppress_referrals,omitempty"`
}

type BookingJSON struct {
	ID                 string `json:"id"`
	VenueID            string `json:"venue_id"`
	ConciergeID        string `json:"concierge_id"`
	PartnerConciergeID string `json:"partner_concierge_id,omitempty"`
	PartnerVenueID     string `json:"partner_venue_id,omitempty"`
	GuestCount         int    `json:"guest_count"`
	IsPrime            bool   `json:"is_prime,omitempty"`
	TotalFeeCents      *int64 `json:"total_fee_cents,omitempty"`
	Currency           string `json:"currency,omitempty"`
	Status             string `json:"status,omitempty"`
	ScheduleReference  string `json:"schedule_reference,omitempty"`
	PaidAtVenue        bool   `json:"paid_at_venue,omitempty"`
	TaxRegion          string `json:"tax_region,omitempty"`
	ConfirmedAt        string `json:"confirmed_at,omitempty"` // RFC 3339
}

// =============================================================================
// SEED
// =============================================================================

// Seed is a parsed, validated seed document.
type Seed struct {
	Rates         earnings.RateConfig
	Jurisdictions []earnings.Jurisdiction
	Venues        []earnings.Venue
	Concierges    []earnings.Concierge
	Partners      []earnings.Partner
	Bookings      []earnings.Booking
}

// Sink receives seeded records. All stores implement it.
type Sink interface {
	SaveVenue(ctx context.Context, v earnings.Venue) error
	SaveConcierge(ctx context.Context, c earnings.Concierge) error
	SavePartner(ctx context.Context, p earnings.Partner) error
	SaveBooking(ctx context.Context, b earnings.Booking) error
}

// TaxCalculator builds a calculator from the seed's jurisdictions.
func (s *Seed) TaxCalculator() *earnings.TaxCalculator {
	return earnings.NewTaxCalculator(s.Jurisdictions)
}

// Apply saves every record, configuration before bookings.
func (s *Seed) Apply(ctx context.Context, sink Sink) error {
	for _, v := range s.Venues {
		if err := sink.SaveVenue(ctx, v); err != nil {
			return fmt.Errorf("seed venue %s: %w", v.ID, err)
		}
	}
	for _, c := range s.Concierges {
		if err := sink.SaveConcierge(ctx, c); err != nil {
			return fmt.Errorf("seed concierge %s: %w", c.ID, err)
		}
	}
	for _, p := range s.Partners {
		if err := sink.SavePartner(ctx, p); err != nil {
			return fmt.Errorf("seed partner %s: %w", p.ID, err)
		}
	}
	for _, b := range s.Bookings {
		if err := sink.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("seed booking %s: %w", b.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SEED FACTORY
// =============================================================================

type SeedFactory struct {
	// Rates is the base rate configuration a seed's "rates" block overrides.
	Rates earnings.RateConfig
}

func NewSeedFactory() *SeedFactory {
	return &SeedFactory{Rates: earnings.DefaultRateConfig()}
}

// WithRates sets the base rate configuration, typically the one loaded
// from the environment.
func (f *SeedFactory) WithRates(rc earnings.RateConfig) *SeedFactory {
	f.Rates = rc
	return f
}

// LoadFile parses the seed document at path.
func (f *SeedFactory) LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return f.ParseSeed(string(data))
}

// ParseSeed parses a JSON string into a Seed.
func (f *SeedFactory) ParseSeed(jsonStr string) (*Seed, error) {
	var sj SeedJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON converts and validates a SeedJSON.
func (f *SeedFactory) FromJSON(sj SeedJSON) (*Seed, error) {
	seed := &Seed{
		Rates:         f.Rates,
		Jurisdictions: earnings.DefaultJurisdictions(),
	}

	if sj.Rates != nil {
		rates, err := parseRates(f.Rates, *sj.Rates)
		if err != nil {
			return nil, err
		}
		seed.Rates = rates
	}

	if len(sj.Jurisdictions) > 0 {
		seed.Jurisdictions = nil
		for _, jj := range sj.Jurisdictions {
			if jj.Key == "" {
				return nil, fmt.Errorf("jurisdiction requires key")
			}
			if jj.Rate.IsNegative() {
				return nil, fmt.Errorf("jurisdiction %s: negative rate %s", jj.Key, jj.Rate)
			}
			seed.Jurisdictions = append(seed.Jurisdictions, earnings.Jurisdiction{
				Key:   jj.Key,
				Label: jj.Label,
				Rate:  jj.Rate,
			})
		}
	}

	venues := make(map[string]earnings.Venue, len(sj.Venues))
	for _, vj := range sj.Venues {
		if vj.ID == "" || vj.UserID == "" {
			return nil, fmt.Errorf("venue requires id and user_id")
		}
		v := earnings.Venue{
			ID:                      vj.ID,
			UserID:                  vj.UserID,
			Name:                    vj.Name,
			PayoutVenuePercentage:   nullDecimal(vj.PayoutVenuePercentage),
			BookingFeeCents:         vj.BookingFeeCents,
			IncrementFeeCents:       vj.IncrementFeeCents,
			NonPrimeFeePerHeadCents: vj.NonPrimeFeePerHeadCents,
			Region:                  vj.Region,
		}
		venues[v.ID] = v
		seed.Venues = append(seed.Venues, v)
	}

	for _, cj := range sj.Concierges {
		if cj.ID == "" || cj.UserID == "" {
			return nil, fmt.Errorf("concierge requires id and user_id")
		}
		c := earnings.Concierge{
			ID:                   cj.ID,
			UserID:               cj.UserID,
			Name:                 cj.Name,
			PayoutPercentage:     nullDecimal(cj.PayoutPercentage),
			ReferringConciergeID: cj.ReferringConciergeID,
		}
		if cj.CharityPercentage != nil {
			c.CharityPercentage = *cj.CharityPercentage
		}
		seed.Concierges = append(seed.Concierges, c)
	}

	for _, pj := range sj.Partners {
		if pj.ID == "" || pj.UserID == "" {
			return nil, fmt.Errorf("partner requires id and user_id")
		}
		seed.Partners = append(seed.Partners, earnings.Partner{
			ID:                pj.ID,
			UserID:            pj.UserID,
			Name:              pj.Name,
			Percentage:        nullDecimal(pj.Percentage),
			SuppressReferrals: pj.SuppressReferrals,
		})
	}

	for _, bj := range sj.Bookings {
		b, err := parseBooking(bj, venues)
		if err != nil {
			return nil, err
		}
		seed.Bookings = append(seed.Bookings, b)
	}

	return seed, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRates(rc earnings.RateConfig, rj RatesJSON) (earnings.RateConfig, error) {
	if rj.PlatformUserID != "" {
		rc.PlatformUserID = rj.PlatformUserID
	}
	if rj.CharityUserID != "" {
		rc.CharityUserID = rj.CharityUserID
	}
	if rj.ReferralLevel1Percentage != nil {
		rc.ReferralLevel1Percentage = *rj.ReferralLevel1Percentage
	}
	if rj.ReferralLevel2Percentage != nil {
		rc.ReferralLevel2Percentage = *rj.ReferralLevel2Percentage
	}
	if err := rc.Validate(); err != nil {
		return earnings.RateConfig{}, err
	}
	return rc, nil
}

func parseBooking(bj BookingJSON, venues map[string]earnings.Venue) (earnings.Booking, error) {
	if bj.ID == "" || bj.VenueID == "" || bj.ConciergeID == "" {
		return earnings.Booking{}, fmt.Errorf("booking requires id, venue_id and concierge_id")
	}

	status := earnings.BookingStatus(bj.Status)
	if bj.Status == "" {
		status = earnings.StatusPending
	}
	if !status.IsValid() {
		return earnings.Booking{}, fmt.Errorf("booking %s: unknown status %q", bj.ID, bj.Status)
	}

	b := earnings.Booking{
		ID:                 bj.ID,
		GuestCount:         bj.GuestCount,
		Currency:           bj.Currency,
		IsPrime:            bj.IsPrime,
		Status:             status,
		ScheduleReference:  bj.ScheduleReference,
		VenueID:            bj.VenueID,
		ConciergeID:        bj.ConciergeID,
		PartnerConciergeID: bj.PartnerConciergeID,
		PartnerVenueID:     bj.PartnerVenueID,
		PaidAtVenue:        bj.PaidAtVenue,
		TaxRegion:          bj.TaxRegion,
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}

	switch {
	case bj.TotalFeeCents != nil:
		b.TotalFeeCents = *bj.TotalFeeCents
	default:
		v, ok := venues[bj.VenueID]
		if !ok {
			return earnings.Booking{}, fmt.Errorf("booking %s: total_fee_cents missing and venue %s not in seed", bj.ID, bj.VenueID)
		}
		b.TotalFeeCents = earnings.ScheduleFee(v, bj.IsPrime, bj.GuestCount)
	}
	if b.TotalFeeCents < 0 {
		return earnings.Booking{}, fmt.Errorf("booking %s: %w", bj.ID, earnings.ErrNegativeFee)
	}

	if bj.ConfirmedAt != "" {
		t, err := time.Parse(time.RFC3339, bj.ConfirmedAt)
		if err != nil {
			return earnings.Booking{}, fmt.Errorf("booking %s: invalid confirmed_at: %w", bj.ID, err)
		}
		t = t.UTC()
		b.ConfirmedAt = &t
	}
	return b, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
