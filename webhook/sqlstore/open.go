package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bunotel"

	// Database drivers.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultDSN is an on-disk SQLite database in the working directory.
const DefaultDSN = "file:payrelay.db?_busy_timeout=5000&_journal_mode=WAL"

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")

// Options configures Open.
type Options struct {
	// Driver is "sqlite" or "postgres".
	// Default: sqlite
	Driver string

	// DSN is the driver connection string.
	// Default: DefaultDSN for sqlite
	DSN string

	// MaxOpenConns caps open connections. SQLite defaults to 1.
	MaxOpenConns int

	// Trace adds otel spans for every query.
	Trace bool
}

// Open connects to the database and returns a bun handle with the dialect
// matching the driver.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" || driver == "sqlite3" {
		driver = DriverSQLite
	}
	if driver == "postgresql" {
		driver = DriverPostgres
	}

	var (
		sqlDB *sql.DB
		err   error
		db    *bun.DB
	)
	switch driver {
	case DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = DefaultDSN
		}
		if sqlDB, err = sql.Open("sqlite3", dsn); err != nil {
			return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(max(opts.MaxOpenConns, 1))
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("sqlstore: postgres dsn is required")
		}
		if sqlDB, err = sql.Open("postgres", opts.DSN); err != nil {
			return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driver, err)
	}
	if opts.Trace {
		db.AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName("payrelay")))
	}
	return db, nil
}
