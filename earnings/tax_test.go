package earnings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/earnings-engine/earnings"
)

func TestTaxCalculator_Calculate(t *testing.T) {
	calc := earnings.NewTaxCalculator(earnings.DefaultJurisdictions())

	tests := []struct {
		name      string
		key       string
		base      int64
		wantCents int64
		wantKnown bool
	}{
		{"miami 7%", "miami", 10000, 700, true},
		{"rounds half up", "miami", 50, 4, true},
		{"fractional rate", "new_york", 1000, 89, true},
		{"key normalised", "New York", 1000, 89, true},
		{"hyphenated key", "los-angeles", 1000, 95, true},
		{"zero base", "miami", 0, 0, true},
		{"unknown jurisdiction", "atlantis", 10000, 0, false},
		{"empty key", "", 10000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.key, tt.base)
			assert.Equal(t, tt.wantCents, got.AmountCents)
			assert.Equal(t, tt.wantKnown, got.Known)
		})
	}
}

func TestJurisdictionKey(t *testing.T) {
	v := &earnings.Venue{Region: "Las Vegas"}

	assert.Equal(t, "las_vegas", earnings.JurisdictionKey(earnings.Booking{}, v))
	assert.Equal(t, "ibiza", earnings.JurisdictionKey(earnings.Booking{TaxRegion: " Ibiza "}, v))
	assert.Equal(t, "", earnings.JurisdictionKey(earnings.Booking{}, nil))
}

func TestScheduleFee(t *testing.T) {
	v := earnings.Venue{BookingFeeCents: 20000, IncrementFeeCents: 5000, NonPrimeFeePerHeadCents: 1500}

	tests := []struct {
		name   string
		prime  bool
		guests int
		want   int64
	}{
		{"prime base party", true, 2, 20000},
		{"prime single guest", true, 1, 20000},
		{"prime two extra guests", true, 4, 30000},
		{"non-prime per head", false, 4, 6000},
		{"no guests", true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, earnings.ScheduleFee(v, tt.prime, tt.guests))
		})
	}
}
