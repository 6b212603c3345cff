package store

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore builds a store around an open PostgreSQL handle, applying
// pending schema migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	if err := applyPostgresMigrations(db); err != nil {
		return nil, err
	}

	return &PostgresStore{sqlStore{db: db, rebind: rebindDollar}}, nil
}

// OpenPostgres connects to a PostgreSQL store with the given DSN.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	s, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

var _ Store = (*PostgresStore)(nil)
