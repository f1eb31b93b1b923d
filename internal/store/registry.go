package store

import (
	"database/sql"
	"errors"
)

// EnsurePipeline registers a pipeline class in the ordered registry if it is
// not already present.
func (s *Store) EnsurePipeline(typ PipelineType, cls, args string, sort int) error {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM pipeline WHERE type = ? AND cls = ?`, int(typ), cls).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO pipeline (type, cls, args, sort) VALUES (?, ?, ?, ?)`,
		int(typ), cls, args, sort)
	return err
}

// PipelinesByType returns the enabled registry rows for a type in sort order.
func (s *Store) PipelinesByType(typ PipelineType) ([]PipelineRow, error) {
	rows, err := s.db.Query(
		`SELECT id, type, cls, args, sort, enabled FROM pipeline
		 WHERE type = ? AND enabled = 1 ORDER BY sort, id`, int(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pipelines []PipelineRow
	for rows.Next() {
		var p PipelineRow
		var typ, enabled int
		if err := rows.Scan(&p.ID, &typ, &p.Cls, &p.Args, &p.Sort, &enabled); err != nil {
			return nil, err
		}
		p.Type = PipelineType(typ)
		p.Enabled = enabled != 0
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}
