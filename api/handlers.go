/*
handlers.go - HTTP API handlers for the earnings engine

PURPOSE:
  Exposes the engine's trigger contract over REST: confirmation-time
  computation, lifecycle resync, dry-run preview and batch recalculation.
  Handlers parse and validate input, delegate to the engine and map
  domain errors to HTTP statuses.

ENDPOINTS:
  Bookings:
    GET    /api/bookings/{id}/earnings   Persisted earnings and tax
    POST   /api/bookings/{id}/earnings   ComputeAndPersistEarnings
    GET    /api/bookings/{id}/preview    Compute without writing
    POST   /api/bookings/{id}/status     Set status, then resync earnings
    PUT    /api/bookings/{id}/guests     Set guest count and fee, then resync

  Batch:
    POST   /api/recalculate              Recalculate a selection
    GET    /api/earning-errors           Batch failures for triage

BOOKING WORKFLOW STUBS:
  The status and guest endpoints stand in for the booking workflow, which
  owns those fields. They write the booking first and then make the same
  explicit SyncEarnings call the workflow makes.

ERROR HANDLING:
  - 400: Validation errors, non-payable booking, negative fee
  - 404: Booking not found
  - 422: Rate configuration errors
  - 500: Rounding invariant, persistence and other internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/earnings-engine/earnings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need from persistence: the engine's store plus
// the booking workflow's write path.
type Store interface {
	earnings.TxStore
	SaveBooking(ctx context.Context, b earnings.Booking) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Engine  *earnings.Engine
	Driver  *earnings.RecalculationDriver
	Logger  *slog.Logger
	Workers int
	Now     func() time.Time
}

// NewHandler creates a handler around an engine built on store.
func NewHandler(store Store, engine *earnings.Engine) *Handler {
	return &Handler{
		Store:   store,
		Engine:  engine,
		Driver:  earnings.NewRecalculationDriver(engine),
		Logger:  engine.Logger,
		Workers: earnings.DefaultWorkers,
	}
}

// =============================================================================
// BOOKING EARNINGS
// =============================================================================

// GetEarnings returns the persisted earnings of a booking.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	booking, err := h.Store.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load booking", err)
		return
	}
	if booking == nil {
		writeError(w, http.StatusNotFound, "Booking not found", nil)
		return
	}

	rows, err := h.Store.LoadEarnings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load earnings", err)
		return
	}

	writeJSON(w, http.StatusOK, BookingEarningsResponse{
		BookingID:     booking.ID,
		Status:        string(booking.Status),
		TotalFeeCents: booking.TotalFeeCents,
		GuestCount:    booking.GuestCount,
		Earnings:      toEarningDTOs(rows),
		EarningsCents: earnings.SumCents(rows),
		Tax:           toTaxDTO(booking.Tax()),
	})
}

// ComputeEarnings is the confirmation-time trigger.
func (h *Handler) ComputeEarnings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Engine.ComputeAndPersistEarnings(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, id, "Failed to compute earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(res))
}

// PreviewEarnings computes a booking without writing anything.
func (h *Handler) PreviewEarnings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	comp, current, err := h.Engine.Preview(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, id, "Failed to preview earnings", err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		BookingID:         id,
		Payable:           comp.Booking.Status.IsPayable(),
		Lines:             toRateLineDTOs(comp.Lines),
		Current:           toEarningDTOs(current),
		Computed:          toEarningDTOs(comp.Earnings),
		Changed:           !earnings.SameEarnings(current, comp.Earnings),
		Tax:               toTaxDTO(comp.Tax),
		JurisdictionKnown: comp.TaxResult.Known,
	})
}

// =============================================================================
// BOOKING WORKFLOW STUBS
// =============================================================================

// UpdateStatus moves a booking to a new status and resyncs its earnings.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := earnings.BookingStatus(req.Status)
	if !status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", req.Status), nil)
		return
	}

	booking, ok := h.loadBooking(r.Context(), w, id)
	if !ok {
		return
	}
	booking.Status = status
	if status.IsPayable() && booking.ConfirmedAt == nil {
		now := h.now()
		booking.ConfirmedAt = &now
	}
	if err := h.Store.SaveBooking(r.Context(), *booking); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save booking", err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "status:" + string(status)
	}
	res, err := h.Engine.SyncEarnings(r.Context(), id, reason)
	if err != nil {
		h.writeEngineError(w, id, "Failed to sync earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(res))
}

// UpdateGuests changes the party size, refreshes the fee from the venue's
// schedule and resyncs earnings.
func (h *Handler) UpdateGuests(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateGuestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.GuestCount < 1 {
		writeError(w, http.StatusBadRequest, "guest_count must be at least 1", nil)
		return
	}

	booking, ok := h.loadBooking(r.Context(), w, id)
	if !ok {
		return
	}
	venue, err := h.Store.GetVenue(r.Context(), booking.VenueID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load venue", err)
		return
	}
	if venue == nil {
		writeError(w, http.StatusUnprocessableEntity, "Venue not found",
			&earnings.RateConfigurationError{Entity: "venue", EntityID: booking.VenueID, Reason: "not found"})
		return
	}

	booking.GuestCount = req.GuestCount
	booking.TotalFeeCents = earnings.ScheduleFee(*venue, booking.IsPrime, req.GuestCount)
	if err := h.Store.SaveBooking(r.Context(), *booking); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save booking", err)
		return
	}

	res, err := h.Engine.SyncEarnings(r.Context(), id, "guest_count_changed")
	if err != nil {
		h.writeEngineError(w, id, "Failed to sync earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(res))
}

func (h *Handler) loadBooking(ctx context.Context, w http.ResponseWriter, id string) (*earnings.Booking, bool) {
	booking, err := h.Store.GetBooking(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load booking", err)
		return nil, false
	}
	if booking == nil {
		writeError(w, http.StatusNotFound, "Booking not found", nil)
		return nil, false
	}
	return booking, true
}

// =============================================================================
// BATCH
// =============================================================================

// Recalculate runs the recalculation driver over a selection.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sel := earnings.Selection{
		All:         req.All,
		BookingIDs:  req.BookingIDs,
		VenueID:     req.VenueID,
		ConciergeID: req.ConciergeID,
		ReferrerID:  req.ReferrerID,
		PartnerID:   req.PartnerID,
	}
	for _, s := range req.Statuses {
		st := earnings.BookingStatus(s)
		if !st.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", s), nil)
			return
		}
		sel.Statuses = append(sel.Statuses, st)
	}

	workers := req.Workers
	if workers <= 0 {
		workers = h.Workers
	}
	report, err := h.Driver.Recalculate(r.Context(), sel, earnings.Options{
		DryRun:  req.DryRun,
		Verbose: req.Verbose,
		Workers: workers,
		Actor:   "api",
		Reason:  req.Reason,
	})
	if err != nil {
		if errors.Is(err, earnings.ErrEmptySelection) {
			writeError(w, http.StatusBadRequest, "Empty selection", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalculateResponse(report))
}

// ListEarningErrors returns recorded batch failures, newest first.
func (h *Handler) ListEarningErrors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	errs, err := h.Store.ListEarningErrors(r.Context(), r.URL.Query().Get("booking_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list earning errors", err)
		return
	}

	dtos := make([]EarningErrorDTO, 0, len(errs))
	for _, e := range errs {
		dtos = append(dtos, EarningErrorDTO{
			ID:        e.ID,
			BookingID: e.BookingID,
			Kind:      e.Kind,
			Message:   e.Message,
			Snapshot:  toEarningDTOs(e.Snapshot),
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func toSyncResponse(res earnings.ReplaceResult) SyncResponse {
	resp := SyncResponse{
		BookingID: res.BookingID,
		Changed:   res.Changed,
		Earnings:  toEarningDTOs(res.After),
	}
	if res.Audit != nil {
		resp.AuditID = res.Audit.ID
	}
	return resp
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case earnings.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, earnings.ErrRateConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, earnings.ErrBookingConflict):
		return http.StatusConflict
	case earnings.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, bookingID, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error(message, "booking_id", bookingID, "kind", earnings.ErrorKind(err), "error", err)
	}
	writeError(w, status, message, err)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
