package store

import (
	"encoding/json"
	"fmt"
)

type Entry struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Position  int             `json:"position"`
	Kind      string          `json:"kind"`
	Agent     string          `json:"agent"`
	Content   string          `json:"content"`
	Sealed    bool            `json:"sealed"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ReplaceEntries stores entries as the transcript of runID, discarding any
// previously stored version. Positions are taken from slice order.
func (s *Store) ReplaceEntries(runID string, entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entries (run_id, position, kind, agent, content, sealed, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		var metadata any
		if len(e.Metadata) > 0 {
			metadata = string(e.Metadata)
		}
		if _, err := stmt.Exec(runID, i, e.Kind, e.Agent, e.Content, e.Sealed, metadata, nullable(e.Timestamp)); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetEntries(runID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, position, kind, agent, content, sealed, metadata, timestamp
		FROM entries
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadata, timestamp *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Position, &e.Kind, &e.Agent, &e.Content, &e.Sealed, &metadata, &timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if metadata != nil {
			e.Metadata = json.RawMessage(*metadata)
		}
		if timestamp != nil {
			e.Timestamp = *timestamp
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
