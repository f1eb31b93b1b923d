package store

import (
	"database/sql"
	"testing"
)

// NewTestStore creates a Store backed by an in-memory database. Only intended
// for use in tests.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// The in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)

	if err := configure(db); err != nil {
		db.Close()
		t.Fatalf("Failed to configure test database: %v", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	s := &Store{db: db}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
