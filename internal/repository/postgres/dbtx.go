package postgres

import (
	"context"
	"database/sql"
)

// DBTX is the common interface of *sqlx.DB and *sqlx.Tx, letting the
// repository run inside a transaction in tests
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
