package store

import (
	"fmt"
	"time"
)

// Composite is a synthetic source whose value depends on input sources.
type Composite struct {
	SourceID    int64
	Time        time.Time
	NComponents int
}

// AddComposite creates a composite source with edges from the given inputs.
// The recorded component count is how staleness is detected: a composite with
// fewer surviving edges than n_components has lost an input.
func (s *Store) AddComposite(t time.Time, inputs []int64) (int64, error) {
	id, err := s.AddSource(KindComposite, t)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(
		`INSERT INTO composite_source (source_id, n_components) VALUES (?, ?)`,
		id, len(inputs)); err != nil {
		return 0, fmt.Errorf("inserting composite: %w", err)
	}
	for _, in := range inputs {
		if _, err := s.db.Exec(
			`INSERT INTO composite_component (input_source_id, output_source_id) VALUES (?, ?)`,
			in, id); err != nil {
			return 0, fmt.Errorf("inserting composite component: %w", err)
		}
	}
	return id, nil
}

// Composites returns all composite sources ordered by time.
func (s *Store) Composites() ([]Composite, error) {
	rows, err := s.db.Query(`
		SELECT c.source_id, s.time, c.n_components
		FROM composite_source c JOIN source s ON s.id = c.source_id
		ORDER BY s.time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var composites []Composite
	for rows.Next() {
		var c Composite
		var t int64
		if err := rows.Scan(&c.SourceID, &t, &c.NComponents); err != nil {
			return nil, err
		}
		c.Time = fromUnix(t)
		composites = append(composites, c)
	}
	return composites, rows.Err()
}

// CompositeComponents returns the surviving input source ids of a composite.
// An input that was deleted no longer appears in the source table and is
// excluded, so len(result) < n_components flags the composite as dirty.
func (s *Store) CompositeComponents(outputID int64) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT cc.input_source_id
		FROM composite_component cc JOIN source s ON s.id = cc.input_source_id
		WHERE cc.output_source_id = ?`, outputID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var inputs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inputs = append(inputs, id)
	}
	return inputs, rows.Err()
}

// DirtyComposites returns composites with at least one deleted component.
func (s *Store) DirtyComposites() ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT c.source_id FROM composite_source c
		WHERE c.n_components > (
			SELECT COUNT(*) FROM composite_component cc
			JOIN source s ON s.id = cc.input_source_id
			WHERE cc.output_source_id = c.source_id)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
