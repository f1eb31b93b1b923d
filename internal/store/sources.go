package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddSource inserts a source row and returns its id.
func (s *Store) AddSource(kind SourceKind, t time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO source (kind, time) VALUES (?, ?)`, int(kind), unix(t))
	if err != nil {
		return 0, fmt.Errorf("inserting source: %w", err)
	}
	return res.LastInsertId()
}

// DeleteSource removes a source; statistics and the kind-specific row cascade.
// Intervals covering the source's time are marked dirty first so summaries
// recompute.
func (s *Store) DeleteSource(id int64) error {
	var t sql.NullInt64
	var kind int
	err := s.db.QueryRow(`SELECT kind, time FROM source WHERE id = ?`, id).Scan(&kind, &t)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSourceNotFound
	}
	if err != nil {
		return err
	}
	if t.Valid && SourceKind(kind) != KindInterval {
		if err := s.MarkIntervalsDirty(fromUnix(t.Int64), fromUnix(t.Int64)); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`DELETE FROM source WHERE id = ?`, id)
	return err
}

// --- Activity groups ---

// EnsureActivityGroup returns the id of the named group, creating it if needed.
func (s *Store) EnsureActivityGroup(name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM activity_group WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT INTO activity_group (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return 0, fmt.Errorf("inserting activity group %q: %w", name, err)
	}
	return res.LastInsertId()
}

// ActivityGroups returns all groups ordered by name.
func (s *Store) ActivityGroups() ([]ActivityGroup, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(description, '') FROM activity_group ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []ActivityGroup
	for rows.Next() {
		var g ActivityGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// --- Activity journals ---

// AddActivityJournal creates the source and journal rows for one workout.
func (s *Store) AddActivityJournal(groupID, fileHashID int64, start, finish time.Time) (int64, error) {
	id, err := s.AddSource(KindActivity, start)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(
		`INSERT INTO activity_journal (source_id, group_id, file_hash_id, start, finish) VALUES (?, ?, ?, ?, ?)`,
		id, groupID, nullableID(fileHashID), unix(start), unix(finish))
	if err != nil {
		return 0, fmt.Errorf("inserting activity journal: %w", err)
	}
	return id, nil
}

// OverlappingActivities returns journals in the group whose [start, finish)
// overlaps the given range.
func (s *Store) OverlappingActivities(groupID int64, start, finish time.Time) ([]ActivityJournal, error) {
	rows, err := s.db.Query(
		`SELECT source_id, group_id, COALESCE(file_hash_id, 0), start, finish
		 FROM activity_journal
		 WHERE group_id = ? AND start < ? AND ? < finish`,
		groupID, unix(finish), unix(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivityJournals(rows)
}

// GetActivityJournal retrieves one activity by source id.
func (s *Store) GetActivityJournal(sourceID int64) (*ActivityJournal, error) {
	row := s.db.QueryRow(
		`SELECT a.source_id, a.group_id, COALESCE(a.file_hash_id, 0), a.start, a.finish, g.name
		 FROM activity_journal a JOIN activity_group g ON g.id = a.group_id
		 WHERE a.source_id = ?`, sourceID)
	var a ActivityJournal
	var start, finish int64
	err := row.Scan(&a.SourceID, &a.GroupID, &a.FileHashID, &start, &finish, &a.GroupName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Start, a.Finish = fromUnix(start), fromUnix(finish)
	return &a, nil
}

// ActivityJournals returns all activities ordered by start, optionally
// restricted to one group (groupID 0 means all).
func (s *Store) ActivityJournals(groupID int64) ([]ActivityJournal, error) {
	query := `SELECT a.source_id, a.group_id, COALESCE(a.file_hash_id, 0), a.start, a.finish, g.name
		FROM activity_journal a JOIN activity_group g ON g.id = a.group_id`
	args := []any{}
	if groupID != 0 {
		query += ` WHERE a.group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY a.start`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var journals []ActivityJournal
	for rows.Next() {
		var a ActivityJournal
		var start, finish int64
		if err := rows.Scan(&a.SourceID, &a.GroupID, &a.FileHashID, &start, &finish, &a.GroupName); err != nil {
			return nil, err
		}
		a.Start, a.Finish = fromUnix(start), fromUnix(finish)
		journals = append(journals, a)
	}
	return journals, rows.Err()
}

func scanActivityJournals(rows *sql.Rows) ([]ActivityJournal, error) {
	var journals []ActivityJournal
	for rows.Next() {
		var a ActivityJournal
		var start, finish int64
		if err := rows.Scan(&a.SourceID, &a.GroupID, &a.FileHashID, &start, &finish); err != nil {
			return nil, err
		}
		a.Start, a.Finish = fromUnix(start), fromUnix(finish)
		journals = append(journals, a)
	}
	return journals, rows.Err()
}

// --- Activity timespans ---

// AddActivityTimespan records one recording window.
func (s *Store) AddActivityTimespan(activityID int64, start, finish time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO activity_timespan (activity_id, start, finish) VALUES (?, ?, ?)`,
		activityID, unix(start), unix(finish))
	if err != nil {
		return 0, fmt.Errorf("inserting timespan: %w", err)
	}
	return res.LastInsertId()
}

// ActivityTimespans returns the recording windows of an activity in order.
func (s *Store) ActivityTimespans(activityID int64) ([]ActivityTimespan, error) {
	rows, err := s.db.Query(
		`SELECT id, activity_id, start, finish FROM activity_timespan WHERE activity_id = ? ORDER BY start`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var spans []ActivityTimespan
	for rows.Next() {
		var ts ActivityTimespan
		var start, finish int64
		if err := rows.Scan(&ts.ID, &ts.ActivityID, &start, &finish); err != nil {
			return nil, err
		}
		ts.Start, ts.Finish = fromUnix(start), fromUnix(finish)
		spans = append(spans, ts)
	}
	return spans, rows.Err()
}

// --- Monitor journals ---

// AddMonitorJournal creates the source and journal rows for one daily file.
func (s *Store) AddMonitorJournal(fileHashID int64, start, finish time.Time) (int64, error) {
	id, err := s.AddSource(KindMonitor, start)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(
		`INSERT INTO monitor_journal (source_id, file_hash_id, start, finish) VALUES (?, ?, ?, ?)`,
		id, nullableID(fileHashID), unix(start), unix(finish))
	if err != nil {
		return 0, fmt.Errorf("inserting monitor journal: %w", err)
	}
	return id, nil
}

// OverlappingMonitorJournals returns monitor journals overlapping the range.
func (s *Store) OverlappingMonitorJournals(start, finish time.Time) ([]MonitorJournal, error) {
	rows, err := s.db.Query(
		`SELECT source_id, COALESCE(file_hash_id, 0), start, finish
		 FROM monitor_journal WHERE start < ? AND ? < finish`,
		unix(finish), unix(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var journals []MonitorJournal
	for rows.Next() {
		var m MonitorJournal
		var s0, f0 int64
		if err := rows.Scan(&m.SourceID, &m.FileHashID, &s0, &f0); err != nil {
			return nil, err
		}
		m.Start, m.Finish = fromUnix(s0), fromUnix(f0)
		journals = append(journals, m)
	}
	return journals, rows.Err()
}

// MonitorJournals returns all monitor journals ordered by start.
func (s *Store) MonitorJournals() ([]MonitorJournal, error) {
	return s.OverlappingMonitorJournals(time.Unix(0, 0), time.Unix(1<<40, 0))
}

// SourcesBetween returns source ids of the given kind with time in
// [start, finish), ordered by time.
func (s *Store) SourcesBetween(kind SourceKind, start, finish time.Time) ([]Source, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, time FROM source WHERE kind = ? AND time >= ? AND time < ? ORDER BY time`,
		int(kind), unix(start), unix(finish))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []Source
	for rows.Next() {
		var src Source
		var k int
		var t sql.NullInt64
		if err := rows.Scan(&src.ID, &k, &t); err != nil {
			return nil, err
		}
		src.Kind = SourceKind(k)
		if t.Valid {
			src.Time = fromUnix(t.Int64)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
