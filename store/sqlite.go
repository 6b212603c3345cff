package store

import (
	"database/sql"

	_ "modernc.org/sqlite" // sqlite driver
)

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct {
	sqlStore
}

// NewSqliteStore builds a store around an open SQLite handle, applying
// pending schema migrations.
func NewSqliteStore(db *sql.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	if err := applySqliteMigrations(db); err != nil {
		return nil, err
	}

	return &SqliteStore{sqlStore{db: db, rebind: rebindQuestion}}, nil
}

// OpenSqlite opens (or creates) a SQLite store at the given path.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s, err := NewSqliteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

var _ Store = (*SqliteStore)(nil)
