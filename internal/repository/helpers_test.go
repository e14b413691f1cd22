package repository

import (
	"testing"

	"github.com/jmehdipour/sms-forwarder/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })

	require.NoError(t, db.Migrate(dbx))
	return dbx
}
