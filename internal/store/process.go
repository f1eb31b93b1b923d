package store

import "time"

// WorkerProcess is one row in the process table.
type WorkerProcess struct {
	ID      int64
	Owner   string
	PID     int
	Command string
	Start   time.Time
}

// AddProcess records a spawned worker.
func (s *Store) AddProcess(owner string, pid int, command string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO process (owner, pid, command, start) VALUES (?, ?, ?, ?)`,
		owner, pid, command, unix(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RemoveProcess deletes one worker row.
func (s *Store) RemoveProcess(id int64) error {
	_, err := s.db.Exec(`DELETE FROM process WHERE id = ?`, id)
	return err
}

// Processes returns the recorded workers for an owner.
func (s *Store) Processes(owner string) ([]WorkerProcess, error) {
	rows, err := s.db.Query(
		`SELECT id, owner, pid, command, start FROM process WHERE owner = ?`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var procs []WorkerProcess
	for rows.Next() {
		var p WorkerProcess
		var start int64
		if err := rows.Scan(&p.ID, &p.Owner, &p.PID, &p.Command, &start); err != nil {
			return nil, err
		}
		p.Start = fromUnix(start)
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// ClearProcesses removes all worker rows for an owner, used at parent
// shutdown.
func (s *Store) ClearProcesses(owner string) error {
	_, err := s.db.Exec(`DELETE FROM process WHERE owner = ?`, owner)
	return err
}
