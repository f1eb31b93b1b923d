package store

import (
	"fmt"
	"time"
)

// AddInterval creates a summary window source.
func (s *Store) AddInterval(schedule, owner string, start, finish time.Time) (int64, error) {
	id, err := s.AddSource(KindInterval, start)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(
		`INSERT INTO interval (source_id, schedule, owner, start, finish) VALUES (?, ?, ?, ?, ?)`,
		id, schedule, owner, unix(start), unix(finish))
	if err != nil {
		return 0, fmt.Errorf("inserting interval: %w", err)
	}
	return id, nil
}

// Intervals returns the windows for a schedule and owner ordered by start.
func (s *Store) Intervals(schedule, owner string) ([]Interval, error) {
	rows, err := s.db.Query(
		`SELECT source_id, schedule, owner, start, finish, dirty
		 FROM interval WHERE schedule = ? AND owner = ? ORDER BY start`,
		schedule, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var intervals []Interval
	for rows.Next() {
		var iv Interval
		var start, finish int64
		var dirty int
		if err := rows.Scan(&iv.SourceID, &iv.Schedule, &iv.Owner, &start, &finish, &dirty); err != nil {
			return nil, err
		}
		iv.Start, iv.Finish = fromUnix(start), fromUnix(finish)
		iv.Dirty = dirty != 0
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

// DirtyIntervals returns the windows marked for recomputation.
func (s *Store) DirtyIntervals(schedule, owner string) ([]Interval, error) {
	all, err := s.Intervals(schedule, owner)
	if err != nil {
		return nil, err
	}
	var dirty []Interval
	for _, iv := range all {
		if iv.Dirty {
			dirty = append(dirty, iv)
		}
	}
	return dirty, nil
}

// MarkIntervalsDirty flags every interval overlapping [start, finish] so the
// summary calculators recompute it. This is the write-then-invalidate path:
// the loader calls it with the range of times it persisted.
func (s *Store) MarkIntervalsDirty(start, finish time.Time) error {
	_, err := s.db.Exec(
		`UPDATE interval SET dirty = 1 WHERE NOT (finish <= ? OR start > ?)`,
		unix(start), unix(finish))
	return err
}

// CleanInterval clears the dirty flag after recomputation.
func (s *Store) CleanInterval(sourceID int64) error {
	_, err := s.db.Exec(`UPDATE interval SET dirty = 0 WHERE source_id = ?`, sourceID)
	return err
}
