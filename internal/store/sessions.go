package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/sminos/internal/swarm"
)

// Sessions are persisted as a full JSON document alongside the columns
// queries filter on. The document is authoritative; the columns exist
// for indexing.

func (s *Store) SaveSession(session *swarm.SwarmSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, status, created_at, last_activity, completed_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_activity = excluded.last_activity,
			completed_at = excluded.completed_at,
			data = excluded.data`,
		session.ID, session.UserID, string(session.Status),
		session.CreatedAt, session.LastActivity, session.CompletedAt, string(data))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(id string) (*swarm.SwarmSession, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session swarm.SwarmSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

func (s *Store) LoadUserSessions(userID string) ([]*swarm.SwarmSession, error) {
	rows, err := s.db.Query(`SELECT data FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*swarm.SwarmSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var session swarm.SwarmSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// DeleteTerminalSessionsBefore removes completed, dissolved and errored
// sessions whose last activity predates the cutoff.
func (s *Store) DeleteTerminalSessionsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE status IN (?, ?, ?) AND last_activity < ?`,
		string(swarm.SessionCompleted), string(swarm.SessionDissolved), string(swarm.SessionError), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
