package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetTimestamp records that owner has produced output for key.
func (s *Store) SetTimestamp(owner, constraint string, key int64, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_timestamp (owner, constraint_, key, time) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, constraint_, key) DO UPDATE SET time = excluded.time`,
		owner, constraint, key, unix(t))
	return err
}

// ClearTimestamp removes the dependency marker, forcing recomputation.
func (s *Store) ClearTimestamp(owner, constraint string, key int64) error {
	_, err := s.db.Exec(
		`DELETE FROM pipeline_timestamp WHERE owner = ? AND constraint_ = ? AND key = ?`,
		owner, constraint, key)
	return err
}

// HasTimestamp reports whether owner has produced output for key.
func (s *Store) HasTimestamp(owner, constraint string, key int64) (bool, error) {
	var t int64
	err := s.db.QueryRow(
		`SELECT time FROM pipeline_timestamp WHERE owner = ? AND constraint_ = ? AND key = ?`,
		owner, constraint, key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TimestampedKeys returns the set of keys owner has completed.
func (s *Store) TimestampedKeys(owner, constraint string) (map[int64]bool, error) {
	rows, err := s.db.Query(
		`SELECT key FROM pipeline_timestamp WHERE owner = ? AND constraint_ = ?`,
		owner, constraint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make(map[int64]bool)
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// ClearTimestampsByOwner removes all markers for an owner, forcing a full
// recomputation on the next run.
func (s *Store) ClearTimestampsByOwner(owner string) error {
	_, err := s.db.Exec(`DELETE FROM pipeline_timestamp WHERE owner = ?`, owner)
	return err
}
