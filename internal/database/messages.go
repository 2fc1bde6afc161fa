package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// Broadcast fans one message out to every other agent registered against
// repoID and returns the recipient count.
func (s *Store) Broadcast(ctx context.Context, repoID shared.RepoID, from shared.AgentID, body string) (int, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT agent_id FROM agent_state WHERE repo_id = ? AND agent_id != ?
	`), string(repoID), string(from))
	if err != nil {
		return 0, fmt.Errorf("database: broadcast: list recipients: %w", err)
	}
	var recipients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("database: broadcast: scan recipient: %w", err)
		}
		recipients = append(recipients, id)
	}
	rows.Close()

	err = s.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, to := range recipients {
			if _, err := tx.ExecContext(ctx, rebind(`
				INSERT INTO agent_messages (repo_id, from_agent, to_agent, body, created_at)
				VALUES (?, ?, ?, ?, now())
			`), string(repoID), string(from), to, body); err != nil {
				return fmt.Errorf("insert message to %s: %w", to, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("database: broadcast: %w", err)
	}
	return len(recipients), nil
}

// Inbox returns the most recent messages addressed to agentID, newest
// first, capped at limit.
func (s *Store) Inbox(ctx context.Context, agentID shared.AgentID, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT id, repo_id, from_agent, to_agent, body, created_at
		FROM agent_messages
		WHERE to_agent = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("database: inbox: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var (
			m      store.Message
			repoID string
			from   string
			to     string
		)
		if err := rows.Scan(&m.ID, &repoID, &from, &to, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: inbox: scan: %w", err)
		}
		m.RepoID = shared.RepoID(repoID)
		m.From = shared.AgentID(from)
		m.To = shared.AgentID(to)
		out = append(out, m)
	}
	return out, rows.Err()
}
