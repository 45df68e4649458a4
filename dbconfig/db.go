// Package dbconfig persists chat-intake drips in Postgres.
package dbconfig

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS drips (
    id            BIGSERIAL PRIMARY KEY,
    chain_id      BIGINT         NOT NULL,
    tx_hash       TEXT,
    token_address TEXT           NOT NULL,
    from_address  TEXT           NOT NULL,
    to_address    TEXT           NOT NULL,
    identity      TEXT           NOT NULL,
    amount        NUMERIC(78, 0) NOT NULL,
    created_at    TIMESTAMPTZ    NOT NULL
);
CREATE INDEX IF NOT EXISTS drips_identity_created_at_idx ON drips (identity, created_at DESC);
`

// DBConfig is the drips store. It is safe for concurrent use.
type DBConfig struct {
	db *sql.DB
}

// NewDBConfig creates a new DBConfig instance with the provided connection string.
//
// Parameters:
// - connStr: the database connection string.
//
// Returns:
// - *DBConfig: a pointer to the newly created DBConfig instance.
// - error: an error if the connection string cannot be used.
func NewDBConfig(connStr string) (*DBConfig, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(ErrDatabaseConnect, err.Error())
	}

	return &DBConfig{db: db}, nil
}

// NewDBConfigWithDB wraps an already opened database handle.
func NewDBConfigWithDB(db *sql.DB) *DBConfig {
	return &DBConfig{db: db}
}

// Ping verifies the database is reachable.
func (r *DBConfig) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errors.Wrap(ErrDatabaseConnect, err.Error())
	}
	return nil
}

// EnsureSchema creates the drips table and its index when they do not exist.
func (r *DBConfig) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create drips schema")
	}
	return nil
}

// Close closes the underlying database handle.
func (r *DBConfig) Close() error {
	return r.db.Close()
}
