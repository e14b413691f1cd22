package db

import (
	"fmt"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenStore connects to the configured job/config store and brings its
// schema up to date.
func OpenStore(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	var (
		dbx *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		dbx, err = NewSQLiteConnection(cfg.DSN, SQLiteOpts{PingTimeout: cfg.PingTimeout})
	case DriverMySQL:
		dbx, err = NewMySQLConnection(cfg.DSN, MySQLOpts{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			PingTimeout:     cfg.PingTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}

	if err := Migrate(dbx); err != nil {
		_ = dbx.Close()
		return nil, err
	}
	return dbx, nil
}
