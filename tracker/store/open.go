package store

import (
	"context"
	"fmt"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore is a Store that also serves the user directory and accepts
// roster imports.
type SQLStore interface {
	Store
	RosterImporter
	directory.Directory
	Migrate(ctx context.Context) error
}

var (
	_ SQLStore = (*SQLite)(nil)
	_ SQLStore = (*Postgres)(nil)
	_ Store    = (*Memory)(nil)
)

// Open returns the store for driver. dsn is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "tracker.db"
		}
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("%w: postgres requires a database url", ErrUnknownDriver)
		}
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
