package store

import (
	"database/sql"

	"github.com/onoal/nucleus/pkg/ledger"

	_ "github.com/lib/pq"
)

// OpenPostgres connects to postgres with the given DSN and runs migrations.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &ledger.StorageError{Op: "open_postgres", Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &ledger.StorageError{Op: "open_postgres", Err: err}
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing postgres database handle.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, dollarDialect{})
}
