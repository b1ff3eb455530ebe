package earnings

// primeIncludedGuests is the party size covered by a venue's base prime fee.
const primeIncludedGuests = 2

// ScheduleFee is the booking fee a venue's schedule charges for a party.
// Prime slots charge the base booking fee plus an increment per guest above
// two; non-prime slots charge per head.
//
// The booking workflow uses this when a guest count or schedule changes,
// writes the result to Booking.TotalFeeCents and then asks the engine to
// resync earnings.
func ScheduleFee(v Venue, isPrime bool, guestCount int) int64 {
	if guestCount <= 0 {
		return 0
	}
	if !isPrime {
		return int64(guestCount) * v.NonPrimeFeePerHeadCents
	}
	fee := v.BookingFeeCents
	if extra := guestCount - primeIncludedGuests; extra > 0 {
		fee += int64(extra) * v.IncrementFeeCents
	}
	return fee
}
