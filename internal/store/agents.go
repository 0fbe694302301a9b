package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is a persisted swarm-capable agent profile. Structured fields
// (capabilities, specializations, roles) are stored as JSON blobs.
type Agent struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	UserID             string          `json:"user_id,omitempty"`
	Capabilities       json.RawMessage `json:"capabilities,omitempty"`
	Specializations    json.RawMessage `json:"specializations,omitempty"`
	Roles              json.RawMessage `json:"roles,omitempty"`
	TrustScore         float64         `json:"trust_score"`
	CollaborationScore float64         `json:"collaboration_score"`
	CompletionRate     float64         `json:"completion_rate"`
	SatisfactionScore  float64         `json:"satisfaction_score"`
	CurrentLoad        int             `json:"current_load"`
	MaxLoad            int             `json:"max_load"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

const agentColumns = `id, name, user_id, capabilities, specializations, roles, trust_score, collaboration_score, completion_rate, satisfaction_score, current_load, max_load, created_at, updated_at`

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*Agent, error) {
	a := &Agent{}
	var capabilities, specializations, roles sql.NullString
	err := scanner.Scan(&a.ID, &a.Name, &a.UserID, &capabilities, &specializations, &roles,
		&a.TrustScore, &a.CollaborationScore, &a.CompletionRate, &a.SatisfactionScore,
		&a.CurrentLoad, &a.MaxLoad, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if capabilities.Valid {
		a.Capabilities = json.RawMessage(capabilities.String)
	}
	if specializations.Valid {
		a.Specializations = json.RawMessage(specializations.String)
	}
	if roles.Valid {
		a.Roles = json.RawMessage(roles.String)
	}
	return a, nil
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, user_id, capabilities, specializations, roles, trust_score, collaboration_score, completion_rate, satisfaction_score, current_load, max_load, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			capabilities = excluded.capabilities,
			specializations = excluded.specializations,
			roles = excluded.roles,
			trust_score = excluded.trust_score,
			collaboration_score = excluded.collaboration_score,
			completion_rate = excluded.completion_rate,
			satisfaction_score = excluded.satisfaction_score,
			max_load = excluded.max_load,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.UserID, nullableJSON(a.Capabilities), nullableJSON(a.Specializations), nullableJSON(a.Roles),
		a.TrustScore, a.CollaborationScore, a.CompletionRate, a.SatisfactionScore, a.CurrentLoad, a.MaxLoad)
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
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
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

// SetAgentLoad records how many subtasks an agent currently carries.
func (s *Store) SetAgentLoad(id string, load int) error {
	_, err := s.db.Exec(`UPDATE agents SET current_load = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, load, id)
	return err
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	query := `DELETE FROM agents WHERE id NOT IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
