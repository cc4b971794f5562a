package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

type Run struct {
	ID          string     `json:"id"`
	Seq         uint64     `json:"seq"`
	Task        string     `json:"task"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const runColumns = `id, seq, task, source, status, error, started_at, completed_at`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var runErr *string
	if err := scanner.Scan(&r.ID, &r.Seq, &r.Task, &r.Source, &r.Status, &runErr, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if runErr != nil {
		r.Error = *runErr
	}
	return r, nil
}

// SaveRun inserts r or updates its status. completed_at is stamped the first
// time the run leaves the running state.
func (s *Store) SaveRun(r *Run) error {
	if r.Source == "" {
		r.Source = "api"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, seq, task, source, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status != 'running' AND completed_at IS NULL THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Seq, r.Task, r.Source, r.Status, nullable(r.Error))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// MarkInterruptedRuns fails runs left in the running state by a previous
// process. It returns the number of runs updated.
func (s *Store) MarkInterruptedRuns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = 'interrupted', completed_at = CURRENT_TIMESTAMP
		WHERE status = ?`, RunFailed, RunRunning)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
