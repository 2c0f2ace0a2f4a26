package store

import (
	"fmt"
	"time"
)

// AppendMessage adds one line to a job's transcript.
func (s *Store) AppendMessage(jobID string, kind MessageKind, content string) error {
	_, err := s.conn.Exec(
		`INSERT INTO agent_job_messages (job_id, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		jobID, string(kind), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns a job's transcript in insertion order. limit <= 0
// means no limit; afterID > 0 returns only messages with a larger id,
// which lets pollers tail the transcript.
func (s *Store) ListMessages(jobID string, afterID int64, limit int) ([]*JobMessage, error) {
	query := `SELECT id, job_id, kind, content, created_at
		FROM agent_job_messages WHERE job_id = ?`
	args := []any{jobID}
	if afterID > 0 {
		query += ` AND id > ?`
		args = append(args, afterID)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*JobMessage
	for rows.Next() {
		var m JobMessage
		var kind string
		if err := rows.Scan(&m.ID, &m.JobID, &kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Kind = MessageKind(kind)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
