package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// TimedValue is one (time, value) pair from a numeric statistic series.
type TimedValue struct {
	Time  time.Time
	Value float64
}

// Frame is the pivoted result of a multi-statistic query: one row per
// distinct time, one column per statistic name, NaN where a name has no
// value at that time. TimespanID is populated when the query joined
// activity timespans (0 where no span covers the time).
type Frame struct {
	Times      []time.Time
	Columns    map[string][]float64
	TimespanID []int64
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Times) }

// Column returns the named column, or nil.
func (f *Frame) Column(name string) []float64 { return f.Columns[name] }

// SourceFrame returns a Frame of the named statistics for one source. Names
// must be int or float kinds. When joinTimespans is set, each row carries the
// id of the activity timespan with start <= time < finish, or 0.
func (s *Store) SourceFrame(sourceID int64, names []StatisticName, joinTimespans bool) (*Frame, error) {
	if len(names) == 0 {
		return &Frame{Columns: map[string][]float64{}}, nil
	}

	ids := make([]string, 0, len(names))
	byID := make(map[int64]string, len(names))
	for _, n := range names {
		if n.Kind != StatisticInt && n.Kind != StatisticFloat {
			return nil, fmt.Errorf("statistic %q is not numeric", n.Name)
		}
		ids = append(ids, fmt.Sprint(n.ID))
		byID[n.ID] = n.Name
	}

	query := `
		SELECT j.name_id, j.time,
			COALESCE(i.value, f.value) AS value
		FROM statistic_journal j
		LEFT JOIN statistic_journal_int i ON i.id = j.id
		LEFT JOIN statistic_journal_float f ON f.id = j.id
		WHERE j.source_id = ? AND j.name_id IN (` + strings.Join(ids, ",") + `)
		ORDER BY j.time, j.serial`

	rows, err := s.db.Query(query, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type cell struct {
		name  string
		value float64
	}
	cells := make(map[int64][]cell)
	var times []int64
	for rows.Next() {
		var nameID, t int64
		var value float64
		if err := rows.Scan(&nameID, &t, &value); err != nil {
			return nil, err
		}
		if _, seen := cells[t]; !seen {
			times = append(times, t)
		}
		cells[t] = append(cells[t], cell{name: byID[nameID], value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	frame := &Frame{Columns: make(map[string][]float64, len(names))}
	for _, n := range names {
		col := make([]float64, len(times))
		for i := range col {
			col[i] = math.NaN()
		}
		frame.Columns[n.Name] = col
	}
	frame.Times = make([]time.Time, len(times))
	for i, t := range times {
		frame.Times[i] = fromUnix(t)
		for _, c := range cells[t] {
			frame.Columns[c.name][i] = c.value
		}
	}

	if joinTimespans {
		spans, err := s.ActivityTimespans(sourceID)
		if err != nil {
			return nil, err
		}
		frame.TimespanID = make([]int64, len(frame.Times))
		for i, t := range frame.Times {
			for _, span := range spans {
				if !t.Before(span.Start) && t.Before(span.Finish) {
					frame.TimespanID[i] = span.ID
					break
				}
			}
		}
	}

	return frame, nil
}

// ValuesBetween returns the numeric series of one statistic name over
// [start, finish), ordered by time. Used by the response model.
func (s *Store) ValuesBetween(nameID int64, start, finish time.Time) ([]TimedValue, error) {
	rows, err := s.db.Query(`
		SELECT j.time, COALESCE(i.value, f.value)
		FROM statistic_journal j
		LEFT JOIN statistic_journal_int i ON i.id = j.id
		LEFT JOIN statistic_journal_float f ON f.id = j.id
		WHERE j.name_id = ? AND j.time >= ? AND j.time < ? AND j.source_id IS NOT NULL
		ORDER BY j.time, j.serial`,
		nameID, unix(start), unix(finish))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []TimedValue
	for rows.Next() {
		var t int64
		var v float64
		if err := rows.Scan(&t, &v); err != nil {
			return nil, err
		}
		values = append(values, TimedValue{Time: fromUnix(t), Value: v})
	}
	return values, rows.Err()
}

// SourcedValue pairs a value with the source that produced it.
type SourcedValue struct {
	SourceID int64
	Time     time.Time
	Value    float64
}

// ValuesWithSources is ValuesBetween plus the source id of each value. The
// response model uses the sources to record composite dependencies.
func (s *Store) ValuesWithSources(nameID int64, start, finish time.Time) ([]SourcedValue, error) {
	rows, err := s.db.Query(`
		SELECT j.source_id, j.time, COALESCE(i.value, f.value)
		FROM statistic_journal j
		LEFT JOIN statistic_journal_int i ON i.id = j.id
		LEFT JOIN statistic_journal_float f ON f.id = j.id
		WHERE j.name_id = ? AND j.time >= ? AND j.time < ? AND j.source_id IS NOT NULL
		ORDER BY j.time, j.serial`,
		nameID, unix(start), unix(finish))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []SourcedValue
	for rows.Next() {
		var v SourcedValue
		var t int64
		if err := rows.Scan(&v.SourceID, &t, &v.Value); err != nil {
			return nil, err
		}
		v.Time = fromUnix(t)
		values = append(values, v)
	}
	return values, rows.Err()
}

// ValuesBySourceAndOwner returns all journal values for a source owned by the
// given owner class.
func (s *Store) ValuesBySourceAndOwner(sourceID int64, owner string) ([]StatisticJournal, error) {
	rows, err := s.db.Query(`
		SELECT j.id, j.name_id, j.source_id, j.time, j.serial, j.kind,
			COALESCE(i.value, 0), COALESCE(f.value, 0), COALESCE(x.value, ''), COALESCE(ts.value, 0)
		FROM statistic_journal j
		JOIN statistic_name n ON n.id = j.name_id
		LEFT JOIN statistic_journal_int i ON i.id = j.id
		LEFT JOIN statistic_journal_float f ON f.id = j.id
		LEFT JOIN statistic_journal_text x ON x.id = j.id
		LEFT JOIN statistic_journal_timestamp ts ON ts.id = j.id
		WHERE j.source_id = ? AND n.owner = ?
		ORDER BY j.time, j.serial`,
		sourceID, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJournals(rows)
}

// DeleteStatisticsByOwner removes all values for a source owned by owner.
// Used by force recomputation.
func (s *Store) DeleteStatisticsByOwner(sourceID int64, owner string) error {
	_, err := s.db.Exec(`
		DELETE FROM statistic_journal
		WHERE source_id = ? AND name_id IN (SELECT id FROM statistic_name WHERE owner = ?)`,
		sourceID, owner)
	return err
}

// scanJournals reads full journal rows from a query ordered like the tables.
func scanJournals(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]StatisticJournal, error) {
	var journals []StatisticJournal
	for rows.Next() {
		var j StatisticJournal
		var kind int
		var serial *int64
		var t, tsVal int64
		if err := rows.Scan(&j.ID, &j.NameID, &j.SourceID, &t, &serial, &kind,
			&j.Int, &j.Float, &j.Text, &tsVal); err != nil {
			return nil, err
		}
		j.Time = fromUnix(t)
		j.Serial = serial
		j.Kind = StatisticKind(kind)
		if j.Kind == StatisticTimestamp {
			j.Timestamp = fromUnix(tsVal)
		}
		journals = append(journals, j)
	}
	return journals, rows.Err()
}

// HasStatistic reports whether any value exists for the name on the source.
func (s *Store) HasStatistic(nameID, sourceID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM statistic_journal WHERE name_id = ? AND source_id = ?`,
		nameID, sourceID).Scan(&n)
	return n > 0, err
}
