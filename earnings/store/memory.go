// Package store provides an in-memory earnings.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/earnings-engine/earnings"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	bookings   map[string]earnings.Booking
	venues     map[string]earnings.Venue
	concierges map[string]earnings.Concierge
	partners   map[string]earnings.Partner
	earnings   map[string][]earnings.Earning
	errors     []earnings.EarningError
	audit      []earnings.AuditEntry

	// FailInsert makes InsertEarnings fail, for rollback tests.
	FailInsert error
}

func NewMemory() *Memory {
	return &Memory{
		bookings:   make(map[string]earnings.Booking),
		venues:     make(map[string]earnings.Venue),
		concierges: make(map[string]earnings.Concierge),
		partners:   make(map[string]earnings.Partner),
		earnings:   make(map[string][]earnings.Earning),
	}
}

// =============================================================================
// SEEDING (booking workflow / configuration side)
// =============================================================================

func (m *Memory) SaveBooking(_ context.Context, b earnings.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) SaveVenue(_ context.Context, v earnings.Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venues[v.ID] = v
	return nil
}

func (m *Memory) SaveConcierge(_ context.Context, c earnings.Concierge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concierges[c.ID] = c
	return nil
}

func (m *Memory) SavePartner(_ context.Context, p earnings.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[p.ID] = p
	return nil
}

// AuditEntries returns every audit entry for a booking, oldest first.
func (m *Memory) AuditEntries(bookingID string) []earnings.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []earnings.AuditEntry
	for _, a := range m.audit {
		if a.BookingID == bookingID {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// earnings.Store
// =============================================================================

func (m *Memory) GetBooking(_ context.Context, id string) (*earnings.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) GetVenue(_ context.Context, id string) (*earnings.Venue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.venues[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) GetConcierge(_ context.Context, id string) (*earnings.Concierge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.concierges[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetPartner(_ context.Context, id string) (*earnings.Partner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) LoadEarnings(_ context.Context, bookingID string) ([]earnings.Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(bookingID), nil
}

func (m *Memory) loadLocked(bookingID string) []earnings.Earning {
	rows := m.earnings[bookingID]
	if len(rows) == 0 {
		return nil
	}
	out := append([]earnings.Earning(nil), rows...)
	earnings.SortEarnings(out)
	return out
}

func (m *Memory) SelectBookings(_ context.Context, sel earnings.Selection) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(sel.BookingIDs))
	for _, id := range sel.BookingIDs {
		wanted[id] = true
	}
	statuses := make(map[earnings.BookingStatus]bool, len(sel.Statuses))
	for _, s := range sel.Statuses {
		statuses[s] = true
	}

	var ids []string
	for id, b := range m.bookings {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		if len(statuses) > 0 && !statuses[b.Status] {
			continue
		}
		if sel.VenueID != "" && b.VenueID != sel.VenueID {
			continue
		}
		if sel.ConciergeID != "" && b.ConciergeID != sel.ConciergeID {
			continue
		}
		if sel.PartnerID != "" && b.PartnerConciergeID != sel.PartnerID && b.PartnerVenueID != sel.PartnerID {
			continue
		}
		if sel.ReferrerID != "" && !m.referredByLocked(b.ConciergeID, sel.ReferrerID) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// referredByLocked reports whether referrer is the concierge itself or one
// of its two upstream levels.
func (m *Memory) referredByLocked(conciergeID, referrer string) bool {
	id := conciergeID
	for depth := 0; depth < 3 && id != ""; depth++ {
		if id == referrer {
			return true
		}
		id = m.concierges[id].ReferringConciergeID
	}
	return false
}

func (m *Memory) RecordEarningError(_ context.Context, e earnings.EarningError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, e)
	return nil
}

func (m *Memory) ListEarningErrors(_ context.Context, bookingID string, limit int) ([]earnings.EarningError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []earnings.EarningError
	for i := len(m.errors) - 1; i >= 0; i-- {
		e := m.errors[i]
		if bookingID != "" && e.BookingID != bookingID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot of the
// mutable tables and a restore on error. The store lock is held throughout,
// which serialises all replacements.
func (m *Memory) WithTx(_ context.Context, fn func(earnings.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bookings map[string]earnings.Booking
	earnings map[string][]earnings.Earning
	audit    []earnings.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		bookings: make(map[string]earnings.Booking, len(m.bookings)),
		earnings: make(map[string][]earnings.Earning, len(m.earnings)),
		audit:    append([]earnings.AuditEntry(nil), m.audit...),
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.earnings {
		s.earnings[k] = append([]earnings.Earning(nil), v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.bookings = s.bookings
	m.earnings = s.earnings
	m.audit = s.audit
}

type txView struct {
	parent *Memory
}

func (tv *txView) LockBooking(_ context.Context, bookingID string) (*earnings.Booking, error) {
	b, ok := tv.parent.bookings[bookingID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (tv *txView) LoadEarnings(_ context.Context, bookingID string) ([]earnings.Earning, error) {
	return tv.parent.loadLocked(bookingID), nil
}

func (tv *txView) DeleteEarnings(_ context.Context, bookingID string) error {
	delete(tv.parent.earnings, bookingID)
	return nil
}

func (tv *txView) InsertEarnings(_ context.Context, rows []earnings.Earning) error {
	if tv.parent.FailInsert != nil {
		return tv.parent.FailInsert
	}
	for _, e := range rows {
		tv.parent.earnings[e.BookingID] = append(tv.parent.earnings[e.BookingID], e)
	}
	return nil
}

func (tv *txView) UpdateBookingTax(_ context.Context, bookingID string, tax earnings.BookingTax) error {
	b := tv.parent.bookings[bookingID]
	amount, total := tax.TaxAmountCents, tax.TotalWithTaxCents
	b.TaxAmountCents = &amount
	b.TotalWithTaxCents = &total
	tv.parent.bookings[bookingID] = b
	return nil
}

func (tv *txView) AppendAudit(_ context.Context, entry earnings.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}
