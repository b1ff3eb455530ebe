/*
scheduler.go - Automated retry of failed bookings

PURPOSE:
  Periodically picks up bookings with recent EarningError records and runs
  them through the recalculation driver again. Transient failures (a
  database hiccup during a batch, a partner record that was fixed after the
  run) clear themselves without an operator re-running the batch.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each EarningError is retried at most once; a booking that fails again
    gets a fresh error record and is picked up on the next tick
  - A booking is given up on after MaxAttempts retries
  - EarningError rows are never deleted; they remain for triage
  - Only errors inside the latest BatchSize window are remembered

CONFIGURATION:
  - CheckInterval: How often to check (default: 15 minutes)
  - Enabled: Whether scheduler is active (default: false)
  - BatchSize: Errors inspected per tick (default: 200)
  - MaxAttempts: Retries per booking (default: 3)

USAGE:
  scheduler := NewRetryScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListEarningErrors endpoint
  - earnings/recalc.go: RecalculationDriver
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/earnings-engine/earnings"
)

// RetryScheduler re-runs bookings that failed in earlier batches.
type RetryScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	BatchSize     int
	MaxAttempts   int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu    sync.Mutex
	seen     map[string]bool // earning error ids already retried
	attempts map[string]int  // retries per booking
	lastRun  time.Time
}

// NewRetryScheduler creates a new scheduler.
func NewRetryScheduler(handler *Handler) *RetryScheduler {
	return &RetryScheduler{
		Handler:       handler,
		CheckInterval: 15 * time.Minute,
		BatchSize:     200,
		MaxAttempts:   3,
		stop:          make(chan struct{}),
		seen:          make(map[string]bool),
		attempts:      make(map[string]int),
	}
}

// Start begins the scheduler.
func (rs *RetryScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger().Info("retry scheduler disabled")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.logger().Info("retry scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-progress retry to finish.
func (rs *RetryScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger().Info("retry scheduler stopped")
	}
}

func (rs *RetryScheduler) run() {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow retries pending failures immediately and returns the batch report.
// The report is empty when there was nothing to retry.
func (rs *RetryScheduler) RunNow(ctx context.Context) earnings.BatchReport {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	rs.lastRun = rs.now()

	errs, err := rs.Handler.Store.ListEarningErrors(ctx, "", rs.BatchSize)
	if err != nil {
		rs.logger().Error("retry scheduler: list earning errors", "error", err)
		return earnings.BatchReport{}
	}

	rs.forgetOutside(errs)

	var (
		ids     []string
		picked  = make(map[string]bool)
		skipped int
	)
	for _, e := range errs {
		if rs.seen[e.ID] {
			continue
		}
		rs.seen[e.ID] = true
		if picked[e.BookingID] {
			continue
		}
		if rs.attempts[e.BookingID] >= rs.MaxAttempts {
			skipped++
			continue
		}
		picked[e.BookingID] = true
		rs.attempts[e.BookingID]++
		ids = append(ids, e.BookingID)
	}
	if skipped > 0 {
		rs.logger().Warn("retry scheduler: bookings exceeded max attempts", "count", skipped, "max_attempts", rs.MaxAttempts)
	}
	if len(ids) == 0 {
		return earnings.BatchReport{}
	}

	report, err := rs.Handler.Driver.Recalculate(ctx, earnings.Selection{BookingIDs: ids}, earnings.Options{
		Verbose: true,
		Workers: rs.Handler.Workers,
		Actor:   "retry-scheduler",
		Reason:  "retry after earning error",
	})
	if err != nil {
		rs.logger().Error("retry scheduler: recalculation", "error", err)
		return report
	}
	for _, d := range report.Diffs {
		delete(rs.attempts, d.BookingID)
	}
	rs.logger().Info("retry scheduler: completed",
		"retried", len(ids),
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", len(report.Failed),
	)
	return report
}

// forgetOutside drops bookkeeping for errors that have left the listed
// window. Error rows are append-only and listed newest first, so an error
// that falls out of the window does not come back.
func (rs *RetryScheduler) forgetOutside(errs []earnings.EarningError) {
	listed := make(map[string]bool, len(errs))
	bookings := make(map[string]bool, len(errs))
	for _, e := range errs {
		listed[e.ID] = true
		bookings[e.BookingID] = true
	}
	for id := range rs.seen {
		if !listed[id] {
			delete(rs.seen, id)
		}
	}
	for id := range rs.attempts {
		if !bookings[id] {
			delete(rs.attempts, id)
		}
	}
}

// NextRunTime returns when the next scheduled check will occur.
func (rs *RetryScheduler) NextRunTime() time.Time {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	if rs.lastRun.IsZero() {
		return rs.now().Add(rs.CheckInterval)
	}
	return rs.lastRun.Add(rs.CheckInterval)
}

func (rs *RetryScheduler) now() time.Time {
	return rs.Handler.now()
}

func (rs *RetryScheduler) logger() *slog.Logger {
	return rs.Handler.logger()
}
