/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts are integer
  cents; percentages are decimal strings so no precision is lost in JSON.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - earnings/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/earnings-engine/earnings"
)

// =============================================================================
// EARNINGS
// =============================================================================

type EarningDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Type         string `json:"type"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Percentage   string `json:"percentage"`
	PercentageOf string `json:"percentage_of"`
	ConfirmedAt  string `json:"confirmed_at,omitempty"`
}

type TaxDTO struct {
	Region            string `json:"region,omitempty"`
	TaxAmountCents    int64  `json:"tax_amount_cents"`
	TotalWithTaxCents int64  `json:"total_with_tax_cents"`
}

// BookingEarningsResponse is the persisted state of one booking.
type BookingEarningsResponse struct {
	BookingID     string       `json:"booking_id"`
	Status        string       `json:"status"`
	TotalFeeCents int64        `json:"total_fee_cents"`
	GuestCount    int          `json:"guest_count"`
	Earnings      []EarningDTO `json:"earnings"`
	EarningsCents int64        `json:"earnings_cents"`
	Tax           *TaxDTO      `json:"tax,omitempty"`
}

// SyncResponse is returned by every endpoint that writes earnings.
type SyncResponse struct {
	BookingID string       `json:"booking_id"`
	Changed   bool         `json:"changed"`
	Earnings  []EarningDTO `json:"earnings"`
	AuditID   string       `json:"audit_id,omitempty"`
}

type RateLineDTO struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	Percentage   string `json:"percentage"`
	PercentageOf string `json:"percentage_of"`
	Share        string `json:"share"`
}

type PreviewResponse struct {
	BookingID         string        `json:"booking_id"`
	Payable           bool          `json:"payable"`
	Lines             []RateLineDTO `json:"lines"`
	Current           []EarningDTO  `json:"current"`
	Computed          []EarningDTO  `json:"computed"`
	Changed           bool          `json:"changed"`
	Tax               *TaxDTO       `json:"tax,omitempty"`
	JurisdictionKnown bool          `json:"jurisdiction_known"`
}

// =============================================================================
// BOOKING WORKFLOW STUBS
// =============================================================================

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type UpdateGuestsRequest struct {
	GuestCount int `json:"guest_count"`
}

// =============================================================================
// RECALCULATION
// =============================================================================

type RecalculateRequest struct {
	All         bool     `json:"all,omitempty"`
	BookingIDs  []string `json:"booking_ids,omitempty"`
	VenueID     string   `json:"venue_id,omitempty"`
	ConciergeID string   `json:"concierge_id,omitempty"`
	ReferrerID  string   `json:"referrer_id,omitempty"`
	PartnerID   string   `json:"partner_id,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
	DryRun      bool     `json:"dry_run"`
	Verbose     bool     `json:"verbose,omitempty"`
	Workers     int      `json:"workers,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

type FailureDTO struct {
	BookingID string `json:"booking_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

type TypeDeltaDTO struct {
	Type        string `json:"type"`
	BeforeCents int64  `json:"before_cents"`
	AfterCents  int64  `json:"after_cents"`
}

type BookingDiffDTO struct {
	BookingID string         `json:"booking_id"`
	Changed   bool           `json:"changed"`
	ByType    []TypeDeltaDTO `json:"by_type"`
}

type RecalculateResponse struct {
	DryRun           bool             `json:"dry_run"`
	Processed        int              `json:"processed"`
	Updated          int              `json:"updated"`
	Unchanged        int              `json:"unchanged"`
	Failed           []FailureDTO     `json:"failed"`
	FailedBookingIDs []string         `json:"failed_booking_ids"`
	Diffs            []BookingDiffDTO `json:"diffs"`
	NotSubmitted     int              `json:"not_submitted,omitempty"`
	DurationMS       int64            `json:"duration_ms"`
}

type EarningErrorDTO struct {
	ID        string       `json:"id"`
	BookingID string       `json:"booking_id"`
	Kind      string       `json:"kind"`
	Message   string       `json:"message"`
	Snapshot  []EarningDTO `json:"snapshot"`
	CreatedAt string       `json:"created_at"`
}

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEarningDTOs(es []earnings.Earning) []EarningDTO {
	out := make([]EarningDTO, 0, len(es))
	for _, e := range es {
		dto := EarningDTO{
			ID:           e.ID,
			UserID:       e.UserID,
			Type:         string(e.Type),
			AmountCents:  e.AmountCents,
			Currency:     e.Currency,
			Percentage:   e.Percentage.String(),
			PercentageOf: e.PercentageOf,
		}
		if e.ConfirmedAt != nil {
			dto.ConfirmedAt = e.ConfirmedAt.Format(time.RFC3339)
		}
		out = append(out, dto)
	}
	return out
}

func toTaxDTO(t *earnings.BookingTax) *TaxDTO {
	if t == nil {
		return nil
	}
	return &TaxDTO{Region: t.Region, TaxAmountCents: t.TaxAmountCents, TotalWithTaxCents: t.TotalWithTaxCents}
}

func toRateLineDTOs(lines []earnings.RateLine) []RateLineDTO {
	out := make([]RateLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, RateLineDTO{
			Type:         string(l.Type),
			UserID:       l.UserID,
			Percentage:   l.Percentage.String(),
			PercentageOf: l.PercentageOf,
			Share:        l.Share.String(),
		})
	}
	return out
}

func toRecalculateResponse(r earnings.BatchReport) RecalculateResponse {
	resp := RecalculateResponse{
		DryRun:           r.DryRun,
		Processed:        r.Processed,
		Updated:          r.Updated,
		Unchanged:        r.Unchanged,
		Failed:           make([]FailureDTO, 0, len(r.Failed)),
		FailedBookingIDs: append([]string{}, r.FailedBookingIDs...),
		Diffs:            make([]BookingDiffDTO, 0, len(r.Diffs)),
		NotSubmitted:     r.NotSubmitted,
		DurationMS:       r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, FailureDTO{BookingID: f.BookingID, Kind: f.Kind, Message: f.Message})
	}
	for _, d := range r.Diffs {
		dto := BookingDiffDTO{BookingID: d.BookingID, Changed: d.Changed, ByType: make([]TypeDeltaDTO, 0, len(d.ByType))}
		for _, td := range d.ByType {
			dto.ByType = append(dto.ByType, TypeDeltaDTO{Type: string(td.Type), BeforeCents: td.BeforeCents, AfterCents: td.AfterCents})
		}
		resp.Diffs = append(resp.Diffs, dto)
	}
	return resp
}
