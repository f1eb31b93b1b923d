package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// EnsureStatisticName returns the id of a (name, owner, constraint) triple,
// creating the row with the given kind, units and summary if it doesn't
// exist. An existing row is returned as-is; kind mismatches are an error
// because the value would land in the wrong typed table.
func (s *Store) EnsureStatisticName(n StatisticName) (*StatisticName, error) {
	existing, err := s.GetStatisticName(n.Name, n.Owner, n.Constraint)
	if err == nil {
		if existing.Kind != n.Kind {
			return nil, fmt.Errorf("statistic %q owned by %q has kind %d, want %d",
				n.Name, n.Owner, existing.Kind, n.Kind)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNameNotFound) {
		return nil, err
	}
	res, err := s.db.Exec(
		`INSERT INTO statistic_name (name, owner, constraint_, kind, units, summary) VALUES (?, ?, ?, ?, ?, ?)`,
		n.Name, n.Owner, n.Constraint, int(n.Kind), n.Units, n.Summary)
	if err != nil {
		return nil, fmt.Errorf("inserting statistic name %q: %w", n.Name, err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetStatisticName retrieves a statistic name by its unique triple.
func (s *Store) GetStatisticName(name, owner, constraint string) (*StatisticName, error) {
	row := s.db.QueryRow(
		`SELECT id, name, owner, constraint_, kind, units, summary
		 FROM statistic_name WHERE name = ? AND owner = ? AND constraint_ = ?`,
		name, owner, constraint)
	return scanStatisticName(row)
}

// StatisticNamesByOwner returns all names claimed by an owner.
func (s *Store) StatisticNamesByOwner(owner string) ([]StatisticName, error) {
	rows, err := s.db.Query(
		`SELECT id, name, owner, constraint_, kind, units, summary
		 FROM statistic_name WHERE owner = ? ORDER BY name, constraint_`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []StatisticName
	for rows.Next() {
		var n StatisticName
		var kind int
		if err := rows.Scan(&n.ID, &n.Name, &n.Owner, &n.Constraint, &kind, &n.Units, &n.Summary); err != nil {
			return nil, err
		}
		n.Kind = StatisticKind(kind)
		names = append(names, n)
	}
	return names, rows.Err()
}

// StatisticNamesWithSummaries returns every name carrying a non-empty summary
// specification. Used by the interval summary calculators.
func (s *Store) StatisticNamesWithSummaries() ([]StatisticName, error) {
	rows, err := s.db.Query(
		`SELECT id, name, owner, constraint_, kind, units, summary
		 FROM statistic_name WHERE summary != '' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []StatisticName
	for rows.Next() {
		var n StatisticName
		var kind int
		if err := rows.Scan(&n.ID, &n.Name, &n.Owner, &n.Constraint, &kind, &n.Units, &n.Summary); err != nil {
			return nil, err
		}
		n.Kind = StatisticKind(kind)
		names = append(names, n)
	}
	return names, rows.Err()
}

func scanStatisticName(row *sql.Row) (*StatisticName, error) {
	var n StatisticName
	var kind int
	err := row.Scan(&n.ID, &n.Name, &n.Owner, &n.Constraint, &kind, &n.Units, &n.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNameNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Kind = StatisticKind(kind)
	return &n, nil
}
