// Package store selects the persistence backend named by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/warp/earnings-engine/config"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/store/postgres"
	"github.com/warp/earnings-engine/store/sqlite"
)

// Backend is a ledger store that also accepts booking-workflow and seed
// writes. Both the sqlite and postgres stores implement it.
type Backend interface {
	earnings.TxStore
	SaveVenue(ctx context.Context, v earnings.Venue) error
	SaveConcierge(ctx context.Context, c earnings.Concierge) error
	SavePartner(ctx context.Context, p earnings.Partner) error
	SaveBooking(ctx context.Context, b earnings.Booking) error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open connects to the configured backend. The returned func closes it.
func Open(ctx context.Context, cfg config.App) (Backend, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
