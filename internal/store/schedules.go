package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduleState is the persisted bookkeeping of a configured schedule. The
// definition itself lives in the config; Schedule holds its JSON encoding
// so a changed definition can be detected on sync.
type ScheduleState struct {
	Name       string     `json:"name"`
	Task       string     `json:"task"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `name, task, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*ScheduleState, error) {
	t := &ScheduleState{}
	var lastStatus, lastError *string
	err := scanner.Scan(&t.Name, &t.Task, &t.Schedule, &t.Status,
		&t.NextRunAt, &t.LastRunAt, &lastStatus, &lastError, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		t.LastStatus = *lastStatus
	}
	if lastError != nil {
		t.LastError = *lastError
	}
	return t, nil
}

func (s *Store) SaveSchedule(t *ScheduleState) error {
	if t.Status == "" {
		t.Status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO schedules (name, task, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			task = excluded.task,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		t.Name, t.Task, t.Schedule, t.Status, t.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(name string) (*ScheduleState, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	t, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return t, nil
}

func (s *Store) ListSchedules() ([]ScheduleState, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]ScheduleState, error) {
	return s.querySchedules(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) querySchedules(query string, args ...any) ([]ScheduleState, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []ScheduleState
	for rows.Next() {
		t, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleRun(name string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE name = ?`, lastStatus, lastError, nextRunAt, name)
	return err
}

func (s *Store) UpdateScheduleStatus(name string, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE name = ?`, status, name)
	return err
}

func (s *Store) DeleteSchedulesNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	_, err := s.db.Exec(`DELETE FROM schedules WHERE name NOT IN (`+placeholders(len(names))+`)`, args...)
	return err
}
