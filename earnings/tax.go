package earnings

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX CALCULATOR
// =============================================================================
// Tax is a pass-through liability stored on the booking. It is never
// distributed as an Earning and is not part of the earnings sum.

// Jurisdiction is a taxing region. Rate is a percentage (8.875 = 8.875%).
type Jurisdiction struct {
	Key   string
	Label string
	Rate  decimal.Decimal
}

type TaxResult struct {
	AmountCents       int64
	EffectiveRate     decimal.Decimal
	JurisdictionLabel string
	Known             bool
}

type TaxCalculator struct {
	jurisdictions map[string]Jurisdiction
}

func NewTaxCalculator(js []Jurisdiction) *TaxCalculator {
	c := &TaxCalculator{jurisdictions: make(map[string]Jurisdiction, len(js))}
	for _, j := range js {
		c.jurisdictions[normalizeJurisdiction(j.Key)] = j
	}
	return c
}

// DefaultJurisdictions is the built-in rate table. Seed files may replace it.
func DefaultJurisdictions() []Jurisdiction {
	return []Jurisdiction{
		{Key: "miami", Label: "Miami-Dade, FL", Rate: decimal.RequireFromString("7")},
		{Key: "new_york", Label: "New York City, NY", Rate: decimal.RequireFromString("8.875")},
		{Key: "los_angeles", Label: "Los Angeles, CA", Rate: decimal.RequireFromString("9.5")},
		{Key: "las_vegas", Label: "Clark County, NV", Rate: decimal.RequireFromString("8.375")},
		{Key: "ibiza", Label: "Ibiza, ES (IVA)", Rate: decimal.RequireFromString("21")},
		{Key: "mykonos", Label: "Mykonos, GR (VAT)", Rate: decimal.RequireFromString("24")},
	}
}

// Calculate returns tax on baseCents, rounded half-up to the cent. An
// unknown jurisdiction yields a zero result with Known set to false.
func (c *TaxCalculator) Calculate(key string, baseCents int64) TaxResult {
	j, ok := c.jurisdictions[normalizeJurisdiction(key)]
	if !ok {
		return TaxResult{EffectiveRate: decimal.Zero, JurisdictionLabel: key}
	}
	if baseCents <= 0 {
		return TaxResult{EffectiveRate: j.Rate, JurisdictionLabel: j.Label, Known: true}
	}
	amount := decimal.NewFromInt(baseCents).Mul(j.Rate).Shift(-2)
	return TaxResult{
		AmountCents:       amount.Round(0).IntPart(),
		EffectiveRate:     j.Rate,
		JurisdictionLabel: j.Label,
		Known:             true,
	}
}

// JurisdictionKey picks the booking's tax region, falling back to the venue's.
func JurisdictionKey(b Booking, v *Venue) string {
	if b.TaxRegion != "" {
		return normalizeJurisdiction(b.TaxRegion)
	}
	if v != nil {
		return normalizeJurisdiction(v.Region)
	}
	return ""
}

func normalizeJurisdiction(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}
