package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureFileHash returns the id for a content hash, creating it if new, and
// reports whether the hash already existed.
func (s *Store) EnsureFileHash(hash string) (id int64, existed bool, err error) {
	err = s.db.QueryRow(`SELECT id FROM file_hash WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	res, err := s.db.Exec(`INSERT INTO file_hash (hash) VALUES (?)`, hash)
	if err != nil {
		return 0, false, fmt.Errorf("inserting file hash: %w", err)
	}
	id, err = res.LastInsertId()
	return id, false, err
}

// HashSeen reports whether a hash is already referenced by a scanned file.
// A hash row alone is not enough: an aborted import leaves the hash behind
// and the file must still be importable on retry.
func (s *Store) HashSeen(hashID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM file_scan WHERE file_hash_id = ?`, hashID).Scan(&n)
	return n > 0, err
}

// MarkScanned records that a path has been processed (successfully or
// permanently failed) so it is not revisited.
func (s *Store) MarkScanned(path string, fileHashID int64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO file_scan (path, file_hash_id, last_scan) VALUES (?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET file_hash_id = excluded.file_hash_id, last_scan = excluded.last_scan`,
		path, fileHashID, unix(at))
	return err
}

// ScannedPaths returns the set of already-processed paths.
func (s *Store) ScannedPaths() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT path FROM file_scan`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// EnsureTopic finds or creates the topic source for a file hash. Topics carry
// user-facing annotations such as the activity name; keying them by hash means
// they survive a delete-and-reimport of the activity itself.
func (s *Store) EnsureTopic(fileHashID int64, t time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM topic_journal WHERE file_hash_id = ?`, fileHashID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	id, err = s.AddSource(KindTopic, t)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(`INSERT INTO topic_journal (id, file_hash_id) VALUES (?, ?)`, id, fileHashID)
	return id, err
}
