package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role,omitempty"`
	Description string    `json:"description,omitempty"`
	Layer       int       `json:"layer"`
	Parent      string    `json:"parent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const agentColumns = `id, name, role, description, layer, parent, created_at, updated_at`

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*Agent, error) {
	a := &Agent{}
	var role, description, parent sql.NullString
	if err := scanner.Scan(&a.ID, &a.Name, &role, &description, &a.Layer, &parent, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Role = role.String
	a.Description = description.String
	a.Parent = parent.String
	return a, nil
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, role, description, layer, parent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			description = excluded.description,
			layer = excluded.layer,
			parent = excluded.parent,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Role, a.Description, a.Layer, a.Parent)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY layer, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders(len(ids))+`)`, args...)
	return err
}
