package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConstantOwner is the owner class for user-entered constants.
const ConstantOwner = "Constant"

// constantSchemas maps constant names to the JSON object fields they must
// carry. Populated at startup by the packages that consume each constant.
var constantSchemas = map[string][]string{}

// RegisterConstantSchema declares that a constant holds a JSON object with
// exactly the given fields. Writes to the constant are validated against it.
func RegisterConstantSchema(name string, fields []string) {
	constantSchemas[name] = fields
}

func validateConstant(name, value string) error {
	fields, ok := constantSchemas[name]
	if !ok {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return fmt.Errorf("constant %q must be JSON: %w", name, err)
	}
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			return fmt.Errorf("constant %q missing field %q", name, f)
		}
	}
	for k := range obj {
		found := false
		for _, f := range fields {
			if k == f {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("constant %q has unknown field %q", name, k)
		}
	}
	return nil
}

// SetConstant writes a constant value effective from the given time. A
// single-valued constant uses the zero time. JSON-schema constants are
// validated on write.
func (s *Store) SetConstant(name string, at time.Time, value string) error {
	if err := validateConstant(name, value); err != nil {
		return err
	}

	sn, err := s.EnsureStatisticName(StatisticName{
		Name: name, Owner: ConstantOwner, Kind: StatisticText,
	})
	if err != nil {
		return err
	}

	sourceID, err := s.constantSource(name, at)
	if err != nil {
		return err
	}

	// Replace any previous value at the same time.
	var existing int64
	err = s.db.QueryRow(
		`SELECT id FROM statistic_journal WHERE name_id = ? AND source_id = ? AND time = ?`,
		sn.ID, sourceID, unix(at)).Scan(&existing)
	if err == nil {
		_, err = s.db.Exec(`UPDATE statistic_journal_text SET value = ? WHERE id = ?`, value, existing)
		return err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := s.db.Exec(
		`INSERT INTO statistic_journal (name_id, source_id, time, kind) VALUES (?, ?, ?, ?)`,
		sn.ID, sourceID, unix(at), int(StatisticText))
	if err != nil {
		return fmt.Errorf("inserting constant %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO statistic_journal_text (id, value) VALUES (?, ?)`, id, value)
	return err
}

// constantSource finds or creates the source row for a constant name. One
// source per constant; the journal rows on it form the value history.
func (s *Store) constantSource(name string, at time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT DISTINCT j.source_id
		FROM statistic_journal j
		JOIN statistic_name n ON n.id = j.name_id
		JOIN source src ON src.id = j.source_id
		WHERE n.name = ? AND n.owner = ? AND src.kind = ?`,
		name, ConstantOwner, int(KindConstant)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return s.AddSource(KindConstant, at)
}

// GetConstant returns the value of a constant in effect at the given time.
// The name may be exact or a prefix that matches a single "name:group" form.
func (s *Store) GetConstant(name string, at time.Time) (string, error) {
	resolved, err := s.resolveConstantName(name)
	if err != nil {
		return "", err
	}
	var value string
	err = s.db.QueryRow(`
		SELECT t.value
		FROM statistic_journal j
		JOIN statistic_name n ON n.id = j.name_id
		JOIN statistic_journal_text t ON t.id = j.id
		WHERE n.name = ? AND n.owner = ? AND j.time <= ?
		ORDER BY j.time DESC LIMIT 1`,
		resolved, ConstantOwner, unix(at)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrConstantNotFound, name)
	}
	return value, err
}

// GetConstantJSON parses a JSON constant into out.
func (s *Store) GetConstantJSON(name string, at time.Time, out any) error {
	value, err := s.GetConstant(name, at)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return fmt.Errorf("parsing constant %q: %w", name, err)
	}
	return nil
}

// RemoveConstant deletes a constant and its whole value history by deleting
// its source.
func (s *Store) RemoveConstant(name string) error {
	resolved, err := s.resolveConstantName(name)
	if err != nil {
		return err
	}
	var sourceID int64
	err = s.db.QueryRow(`
		SELECT DISTINCT j.source_id
		FROM statistic_journal j
		JOIN statistic_name n ON n.id = j.name_id
		WHERE n.name = ? AND n.owner = ?`,
		resolved, ConstantOwner).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrConstantNotFound, name)
	}
	if err != nil {
		return err
	}
	return s.DeleteSource(sourceID)
}

// ConstantNames lists all constant names.
func (s *Store) ConstantNames() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT name FROM statistic_name WHERE owner = ? ORDER BY name`, ConstantOwner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) resolveConstantName(name string) (string, error) {
	names, err := s.ConstantNames()
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n == name {
			return n, nil
		}
	}
	var matches []string
	for _, n := range names {
		if strings.HasPrefix(n, name+":") {
			matches = append(matches, n)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrConstantNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("constant %q is ambiguous (%s)", name, strings.Join(matches, ", "))
	}
}
