package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"concept-rag/internal/config"
)

const (
	DriverPG     = "pgdriver"
	DriverPQ     = "pq"
	DriverSQLite = "sqlite"
)

// Connect opens the configured database and wraps it in bun.
func Connect(cfg *config.DatabaseConfig) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	switch cfg.Driver {
	case DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		sqldb = sql.OpenDB(pgdriver.NewConnector(opts...))
	case DriverPQ:
		sqldb, err = sql.Open("postgres", cfg.DSN)
	case DriverSQLite:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err == nil {
			sqldb.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewDB(sqldb, cfg.Driver, cfg.Debug), nil
}

// NewDB picks the dialect for driver and optionally logs every query.
func NewDB(sqldb *sql.DB, driver string, debug bool) *bun.DB {
	var db *bun.DB
	if driver == DriverSQLite {
		db = bun.NewDB(sqldb, sqlitedialect.New())
	} else {
		db = bun.NewDB(sqldb, pgdialect.New())
	}
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func Ping(ctx context.Context, db *bun.DB) error {
	return db.PingContext(ctx)
}
