/*
main.go - Batch earnings recalculation

PURPOSE:
  Recomputes earnings for a selection of bookings after a referral-chain
  correction, a partner percentage change or a schedule fix. Run with
  -dry-run first: the report is identical to a live run but nothing is
  written.

COMMAND-LINE FLAGS:
  -driver     sqlite | postgres (default: EARNINGS_DRIVER)
  -db         SQLite database path
  -bookings   Comma-separated booking ids
  -venue      Bookings at this venue
  -concierge  Bookings made by this concierge
  -referrer   Bookings whose concierge chain includes this concierge
  -partner    Bookings carrying this partner (concierge or venue side)
  -statuses   Comma-separated statuses (e.g. confirmed,completed)
  -all        Every booking
  -dry-run    Compute and diff without writing
  -verbose    Per-booking before/after table, unchanged bookings included
  -workers    Bookings in flight (default: EARNINGS_WORKERS)
  -reason     Recorded on audit entries

EXIT CODES:
  0  every selected booking processed
  1  at least one booking failed, or the run could not start

EXAMPLES:
  ./recalc -partner=partner-7 -dry-run -verbose
  ./recalc -referrer=c-42 -reason="referral chain fix"
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/warp/earnings-engine/audit"
	"github.com/warp/earnings-engine/config"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	driver := flag.String("driver", cfg.Driver, "Store driver: sqlite or postgres")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	bookings := flag.String("bookings", "", "Comma-separated booking ids")
	venue := flag.String("venue", "", "Venue id")
	concierge := flag.String("concierge", "", "Concierge id")
	referrer := flag.String("referrer", "", "Referring concierge id (any level)")
	partner := flag.String("partner", "", "Partner id")
	statuses := flag.String("statuses", "", "Comma-separated booking statuses")
	all := flag.Bool("all", false, "Select every booking")
	dryRun := flag.Bool("dry-run", false, "Compute and diff without writing")
	verbose := flag.Bool("verbose", false, "Print per-booking breakdowns")
	workers := flag.Int("workers", cfg.Workers, "Bookings processed in parallel")
	reason := flag.String("reason", "", "Reason recorded on audit entries")
	flag.Parse()

	cfg.Driver, cfg.SQLitePath, cfg.Workers = *driver, *dbPath, *workers
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	sel := earnings.Selection{
		All:         *all,
		BookingIDs:  splitList(*bookings),
		VenueID:     *venue,
		ConciergeID: *concierge,
		ReferrerID:  *referrer,
		PartnerID:   *partner,
	}
	for _, s := range splitList(*statuses) {
		st := earnings.BookingStatus(s)
		if !st.IsValid() {
			fmt.Fprintf(os.Stderr, "unknown status %q\n", s)
			return 1
		}
		sel.Statuses = append(sel.Statuses, st)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer closeStore()

	rates, err := cfg.RateConfig()
	if err != nil {
		logger.Error("rate config", "error", err)
		return 1
	}
	engine := earnings.NewEngine(st, rates, nil).WithLogger(logger)
	if cfg.AMQPURL != "" && !*dryRun {
		pub, err := audit.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
		if err != nil {
			logger.Error("audit publisher", "error", err)
			return 1
		}
		defer pub.Close()
		engine.Writer.Sink = pub
	}

	report, err := earnings.NewRecalculationDriver(engine).Recalculate(ctx, sel, earnings.Options{
		DryRun:  *dryRun,
		Verbose: *verbose,
		Workers: cfg.Workers,
		Actor:   "recalc-cli",
		Reason:  *reason,
	})
	if err != nil {
		logger.Error("recalculation", "error", err)
		return 1
	}

	printReport(os.Stdout, report, *verbose)
	return exitCode(report)
}

// exitCode is 1 when any selected booking failed or was never submitted.
func exitCode(r earnings.BatchReport) int {
	if len(r.Failed) > 0 || r.NotSubmitted > 0 {
		return 1
	}
	return 0
}

func printReport(out io.Writer, r earnings.BatchReport, verbose bool) {
	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "Recalculation (%s): processed=%d updated=%d unchanged=%d failed=%d\n",
		mode, r.Processed, r.Updated, r.Unchanged, len(r.Failed))
	if r.NotSubmitted > 0 {
		fmt.Fprintf(out, "Cancelled: %d bookings not submitted\n", r.NotSubmitted)
	}

	if len(r.Failed) > 0 {
		fmt.Fprintln(out, "\nFailures:")
		for _, f := range r.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.BookingID, f.Message)
		}
	}

	if !verbose || len(r.Diffs) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BOOKING\tTYPE\tBEFORE\tAFTER\tDELTA\t")
	for _, d := range r.Diffs {
		if len(d.ByType) == 0 {
			fmt.Fprintf(tw, "%s\t(none)\t0\t0\t0\t\n", d.BookingID)
			continue
		}
		for _, td := range d.ByType {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", d.BookingID, td.Type,
				cents(td.BeforeCents), cents(td.AfterCents), cents(td.AfterCents-td.BeforeCents))
		}
	}
	tw.Flush()
}

func cents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
