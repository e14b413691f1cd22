package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type SQLiteOpts struct {
	PingTimeout time.Duration
}

// NewSQLiteConnection opens the embedded store. The pool is pinned to one
// connection so every read and write is serialized through it.
func NewSQLiteConnection(dsn string, opts SQLiteOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty SQLite DSN")
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}

	return db, nil
}
