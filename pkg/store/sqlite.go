package store

import (
	"database/sql"

	"github.com/onoal/nucleus/pkg/ledger"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a sqlite-backed store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &ledger.StorageError{Op: "open_sqlite", Err: err}
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing sqlite database handle.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, questionDialect{})
}
