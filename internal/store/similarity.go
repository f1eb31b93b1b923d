package store

// SaveSimilarity inserts or updates the score for a pair. Callers must order
// the pair so lo < hi.
func (s *Store) SaveSimilarity(sim Similarity) error {
	_, err := s.db.Exec(`
		INSERT INTO activity_similarity (constraint_, lo, hi, similarity) VALUES (?, ?, ?, ?)
		ON CONFLICT (constraint_, lo, hi) DO UPDATE SET similarity = excluded.similarity`,
		sim.Constraint, sim.Lo, sim.Hi, sim.Similarity)
	return err
}

// Similarities returns all pair scores for a constraint.
func (s *Store) Similarities(constraint string) ([]Similarity, error) {
	rows, err := s.db.Query(
		`SELECT constraint_, lo, hi, similarity FROM activity_similarity WHERE constraint_ = ?`,
		constraint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sims []Similarity
	for rows.Next() {
		var sim Similarity
		if err := rows.Scan(&sim.Constraint, &sim.Lo, &sim.Hi, &sim.Similarity); err != nil {
			return nil, err
		}
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

// SimilaritiesOf returns every pair row touching one activity, from both the
// lo and hi sides.
func (s *Store) SimilaritiesOf(constraint string, activityID int64) ([]Similarity, error) {
	rows, err := s.db.Query(`
		SELECT constraint_, lo, hi, similarity FROM activity_similarity
		WHERE constraint_ = ? AND (lo = ? OR hi = ?)`,
		constraint, activityID, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sims []Similarity
	for rows.Next() {
		var sim Similarity
		if err := rows.Scan(&sim.Constraint, &sim.Lo, &sim.Hi, &sim.Similarity); err != nil {
			return nil, err
		}
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

// ReplaceNearbyGroups replaces the stored clustering for a constraint.
func (s *Store) ReplaceNearbyGroups(constraint string, groups map[int64][]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM activity_nearby WHERE constraint_ = ?`, constraint); err != nil {
		return err
	}
	for grp, members := range groups {
		for _, id := range members {
			if _, err := tx.Exec(
				`INSERT INTO activity_nearby (constraint_, grp, activity_journal_id) VALUES (?, ?, ?)`,
				constraint, grp, id); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// NearbyGroups returns the stored clustering for a constraint.
func (s *Store) NearbyGroups(constraint string) (map[int64][]int64, error) {
	rows, err := s.db.Query(
		`SELECT grp, activity_journal_id FROM activity_nearby WHERE constraint_ = ? ORDER BY grp`,
		constraint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := make(map[int64][]int64)
	for rows.Next() {
		var grp, id int64
		if err := rows.Scan(&grp, &id); err != nil {
			return nil, err
		}
		groups[grp] = append(groups[grp], id)
	}
	return groups, rows.Err()
}
