/*
rates.go - Percentage resolution for a booking

PURPOSE:
  Turns a booking and its venue/concierge/partner records into an ordered
  list of RateLines. Each line names one payee and the share of the total
  fee it is owed. The shares always cover exactly 100%: whatever the venue,
  concierge side and partners do not claim is the platform residual.

RESOLUTION RULES:
  Venue side:
    partner venue present  -> venue_partner at partner percentage
    paid at venue          -> venue_paid at venue payout percentage
    otherwise              -> venue at venue payout percentage

  Concierge side (C = concierge payout percentage):
    level 1 referrer  -> C * L1 / 100
    level 2 referrer  -> C * L2 / 100
    direct concierge  -> C - level1 - level2, minus its charity share
    partner concierge -> replaces the direct concierge (and its charity);
                         referral levels stay unless the partner suppresses them

  Platform: 100 - everything above

EXAMPLE:
  Venue 60%, concierge 15% with one referrer (L1 = 10%):
    venue                       60
    concierge                   13.5
    concierge_referral_level_1   1.5  (10% of concierge_share)
    platform                    25    (residual)
*/
package earnings

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// OfConciergeEarning tags a charity line: its percentage applies to the
// direct concierge's own earning.
const OfConciergeEarning = "concierge_earning"

// RateConfig holds engine-wide rate settings that are not attached to any
// venue, concierge or partner record.
type RateConfig struct {
	PlatformUserID           string
	CharityUserID            string
	ReferralLevel1Percentage decimal.Decimal // of the concierge share
	ReferralLevel2Percentage decimal.Decimal // of the concierge share
}

// DefaultRateConfig returns the standard referral split: 10% of the
// concierge share to level 1 and 5% to level 2.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		PlatformUserID:           "platform",
		CharityUserID:            "charity",
		ReferralLevel1Percentage: decimal.NewFromInt(10),
		ReferralLevel2Percentage: decimal.NewFromInt(5),
	}
}

func (c RateConfig) Validate() error {
	if c.PlatformUserID == "" {
		return &RateConfigurationError{Entity: "engine", Field: "platform_user_id", Reason: "not set"}
	}
	if err := checkRange(c.ReferralLevel1Percentage, "engine", "", "referral_level_1_percentage"); err != nil {
		return err
	}
	if err := checkRange(c.ReferralLevel2Percentage, "engine", "", "referral_level_2_percentage"); err != nil {
		return err
	}
	sum := c.ReferralLevel1Percentage.Add(c.ReferralLevel2Percentage)
	if sum.GreaterThan(hundred) {
		return &RateConfigurationError{Entity: "engine", Field: "referral_percentages",
			Reason: fmt.Sprintf("levels sum to %s%%, above 100%%", sum)}
	}
	return nil
}

// RateLine is one payee's claim on the booking fee.
//
// Share is the effective percentage of the total fee and drives allocation.
// Percentage and PercentageOf are the nominal rate and the base it was
// configured against; they are persisted for auditability.
type RateLine struct {
	Type         EarningType
	UserID       string
	Percentage   decimal.Decimal
	PercentageOf string
	Share        decimal.Decimal
}

// RateInput is a booking with its configuration records already loaded.
// Level1 and Level2 are the concierge's referrer and the referrer's referrer.
type RateInput struct {
	Booking          Booking
	Venue            *Venue
	Concierge        *Concierge
	Level1           *Concierge
	Level2           *Concierge
	PartnerConcierge *Partner
	PartnerVenue     *Partner
}

type RateResolver struct {
	Config RateConfig
}

func NewRateResolver(cfg RateConfig) RateResolver {
	return RateResolver{Config: cfg}
}

// Resolve returns the rate lines for a booking. The shares sum to exactly 100.
func (r RateResolver) Resolve(in RateInput) ([]RateLine, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, err
	}

	venueLine, err := r.venueLine(in)
	if err != nil {
		return nil, err
	}
	lines := []RateLine{venueLine}

	conciergeLines, err := r.conciergeLines(in)
	if err != nil {
		return nil, err
	}
	lines = append(lines, conciergeLines...)

	claimed := decimal.Zero
	for _, l := range lines {
		claimed = claimed.Add(l.Share)
	}
	if claimed.GreaterThan(hundred) {
		return nil, &RateConfigurationError{
			Entity:   "booking",
			EntityID: in.Booking.ID,
			Reason:   fmt.Sprintf("claimed shares total %s%%, above 100%%", claimed),
		}
	}

	residual := hundred.Sub(claimed)
	lines = append(lines, RateLine{
		Type:         EarningPlatform,
		UserID:       r.Config.PlatformUserID,
		Percentage:   residual,
		PercentageOf: OfResidual,
		Share:        residual,
	})
	return lines, nil
}

func (r RateResolver) venueLine(in RateInput) (RateLine, error) {
	b := in.Booking
	if in.Venue == nil {
		return RateLine{}, &RateConfigurationError{Entity: "venue", EntityID: b.VenueID, Reason: "missing"}
	}

	if b.PartnerVenueID != "" {
		p := in.PartnerVenue
		if p == nil {
			return RateLine{}, &RateConfigurationError{Entity: "partner", EntityID: b.PartnerVenueID, Reason: "missing"}
		}
		pct, err := requirePercentage(p.Percentage, "partner", p.ID, "percentage")
		if err != nil {
			return RateLine{}, err
		}
		return RateLine{Type: EarningVenuePartner, UserID: p.UserID, Percentage: pct, PercentageOf: OfTotalFee, Share: pct}, nil
	}

	v := in.Venue
	pct, err := requirePercentage(v.PayoutVenuePercentage, "venue", v.ID, "payout_venue_percentage")
	if err != nil {
		return RateLine{}, err
	}
	typ := EarningVenue
	if b.PaidAtVenue {
		typ = EarningVenuePaid
	}
	return RateLine{Type: typ, UserID: v.UserID, Percentage: pct, PercentageOf: OfTotalFee, Share: pct}, nil
}

func (r RateResolver) conciergeLines(in RateInput) ([]RateLine, error) {
	b := in.Booking
	c := in.Concierge
	if c == nil {
		return nil, &RateConfigurationError{Entity: "concierge", EntityID: b.ConciergeID, Reason: "missing"}
	}
	total, err := requirePercentage(c.PayoutPercentage, "concierge", c.ID, "payout_percentage")
	if err != nil {
		return nil, err
	}

	var partner *Partner
	if b.PartnerConciergeID != "" {
		partner = in.PartnerConcierge
		if partner == nil {
			return nil, &RateConfigurationError{Entity: "partner", EntityID: b.PartnerConciergeID, Reason: "missing"}
		}
	}

	referrals, err := r.referralLines(in, total, partner != nil && partner.SuppressReferrals)
	if err != nil {
		return nil, err
	}

	direct := total
	for _, l := range referrals {
		direct = direct.Sub(l.Share)
	}

	var lines []RateLine
	if partner != nil {
		pct, err := requirePercentage(partner.Percentage, "partner", partner.ID, "percentage")
		if err != nil {
			return nil, err
		}
		lines = append(lines, RateLine{Type: EarningConciergePartner, UserID: partner.UserID, Percentage: pct, PercentageOf: OfTotalFee, Share: pct})
	} else {
		if err := checkRange(c.CharityPercentage, "concierge", c.ID, "charity_percentage"); err != nil {
			return nil, err
		}
		charity := direct.Mul(c.CharityPercentage).Shift(-2)
		own := direct.Sub(charity)
		lines = append(lines, RateLine{Type: EarningConcierge, UserID: c.UserID, Percentage: own, PercentageOf: OfTotalFee, Share: own})
		if c.CharityPercentage.IsPositive() {
			if r.Config.CharityUserID == "" {
				return nil, &RateConfigurationError{Entity: "engine", Field: "charity_user_id", Reason: "not set"}
			}
			lines = append(lines, RateLine{Type: EarningCharity, UserID: r.Config.CharityUserID, Percentage: c.CharityPercentage, PercentageOf: OfConciergeEarning, Share: charity})
		}
	}
	return append(lines, referrals...), nil
}

// referralLines walks at most two levels up the referral chain.
func (r RateResolver) referralLines(in RateInput, total decimal.Decimal, suppressed bool) ([]RateLine, error) {
	c := in.Concierge
	if c.ReferringConciergeID == "" {
		return nil, nil
	}
	l1 := in.Level1
	if l1 == nil || l1.ID != c.ReferringConciergeID {
		return nil, &RateConfigurationError{Entity: "concierge", EntityID: c.ReferringConciergeID, Reason: "referring concierge missing"}
	}
	if l1.ID == c.ID {
		return nil, &RateConfigurationError{Entity: "concierge", EntityID: c.ID, Field: "referring_concierge_id", Reason: "refers itself"}
	}
	if suppressed {
		return nil, nil
	}

	lines := []RateLine{r.referralLine(EarningReferralLevel1, l1, total, r.Config.ReferralLevel1Percentage)}

	if l1.ReferringConciergeID == "" {
		return lines, nil
	}
	l2 := in.Level2
	if l2 == nil || l2.ID != l1.ReferringConciergeID {
		return nil, &RateConfigurationError{Entity: "concierge", EntityID: l1.ReferringConciergeID, Reason: "referring concierge missing"}
	}
	if l2.ID == c.ID || l2.ID == l1.ID {
		return nil, &RateConfigurationError{Entity: "concierge", EntityID: l1.ID, Field: "referring_concierge_id", Reason: "referral chain is cyclic"}
	}
	return append(lines, r.referralLine(EarningReferralLevel2, l2, total, r.Config.ReferralLevel2Percentage)), nil
}

func (r RateResolver) referralLine(t EarningType, c *Concierge, total, pct decimal.Decimal) RateLine {
	return RateLine{
		Type:         t,
		UserID:       c.UserID,
		Percentage:   pct,
		PercentageOf: OfConciergeShare,
		Share:        total.Mul(pct).Shift(-2),
	}
}

// requirePercentage rejects unset and out-of-range percentages. A missing
// rate is never replaced by a default.
func requirePercentage(p decimal.NullDecimal, entity, id, field string) (decimal.Decimal, error) {
	if !p.Valid {
		return decimal.Zero, &RateConfigurationError{Entity: entity, EntityID: id, Field: field, Reason: "not set"}
	}
	if err := checkRange(p.Decimal, entity, id, field); err != nil {
		return decimal.Zero, err
	}
	return p.Decimal, nil
}

func checkRange(d decimal.Decimal, entity, id, field string) error {
	if d.IsNegative() || d.GreaterThan(hundred) {
		return &RateConfigurationError{Entity: entity, EntityID: id, Field: field,
			Reason: fmt.Sprintf("%s%% is outside 0-100", d)}
	}
	return nil
}
