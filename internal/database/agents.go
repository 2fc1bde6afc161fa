package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

// LoadAgent reads one agent_state row. The bool return is false when no
// such agent is registered.
func (s *Store) LoadAgent(ctx context.Context, agentID shared.AgentID) (agent.State, bool, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT agent_id, repo_id, status, bead_id, current_stage, implementation_attempt, capabilities, last_update
		FROM agent_state WHERE agent_id = ?
	`), string(agentID))

	var (
		id, repoID, status string
		beadID, currentStage sql.NullString
		attempt            int
		caps               pq.StringArray
		lastUpdate         sql.NullTime
	)
	err := row.Scan(&id, &repoID, &status, &beadID, &currentStage, &attempt, &caps, &lastUpdate)
	if err == sql.ErrNoRows {
		return agent.State{}, false, nil
	}
	if err != nil {
		return agent.State{}, false, fmt.Errorf("database: load agent: %w", err)
	}

	st := agent.State{
		ID:                    shared.AgentID(id),
		RepoID:                shared.RepoID(repoID),
		Status:                agent.ParseStatus(status),
		CurrentBead:           shared.BeadID(beadID.String),
		ImplementationAttempt: uint32(attempt),
		Capabilities:          []string(caps),
	}
	if currentStage.Valid {
		if parsed, err := stage.ParseStage(currentStage.String); err == nil {
			st.CurrentStage = parsed
		}
	}
	if lastUpdate.Valid {
		st.LastHeartbeat = lastUpdate.Time
	}
	return st, true, nil
}

// SaveAgent upserts an agent_state row in full.
func (s *Store) SaveAgent(ctx context.Context, state agent.State) error {
	var currentStage sql.NullString
	if state.CurrentBead != "" {
		currentStage = sql.NullString{String: state.CurrentStage.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO agent_state (agent_id, repo_id, status, bead_id, current_stage, implementation_attempt, capabilities, last_update)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			repo_id = excluded.repo_id,
			status = excluded.status,
			bead_id = excluded.bead_id,
			current_stage = excluded.current_stage,
			implementation_attempt = excluded.implementation_attempt,
			capabilities = excluded.capabilities,
			last_update = excluded.last_update
	`), string(state.ID), string(state.RepoID), state.Status.String(), string(state.CurrentBead),
		currentStage, state.ImplementationAttempt, pq.StringArray(state.Capabilities), state.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("database: save agent: %w", err)
	}
	return nil
}

// Register creates count fresh idle agents for repoID and returns their
// generated identifiers.
func (s *Store) Register(ctx context.Context, repoID shared.RepoID, count int) ([]shared.AgentID, error) {
	if count <= 0 {
		return nil, fmt.Errorf("database: register: count must be positive, got %d", count)
	}

	ids := make([]shared.AgentID, 0, count)
	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		for i := 0; i < count; i++ {
			id := shared.AgentID(uuid.New().String())
			_, err := tx.ExecContext(ctx, rebind(`
				INSERT INTO agent_state (agent_id, repo_id, status, last_update)
				VALUES (?, ?, 'idle', now())
			`), string(id), string(repoID))
			if err != nil {
				return fmt.Errorf("insert agent: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: register: %w", err)
	}
	return ids, nil
}

// ListAgents returns every agent registered against repoID.
func (s *Store) ListAgents(ctx context.Context, repoID shared.RepoID) ([]agent.State, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT agent_id, repo_id, status, bead_id, current_stage, implementation_attempt, capabilities, last_update
		FROM agent_state WHERE repo_id = ? ORDER BY agent_id
	`), string(repoID))
	if err != nil {
		return nil, fmt.Errorf("database: list agents: %w", err)
	}
	defer rows.Close()

	var out []agent.State
	for rows.Next() {
		var (
			id, repo, status string
			beadID, currentStage sql.NullString
			attempt         int
			caps            pq.StringArray
			lastUpdate      sql.NullTime
		)
		if err := rows.Scan(&id, &repo, &status, &beadID, &currentStage, &attempt, &caps, &lastUpdate); err != nil {
			return nil, fmt.Errorf("database: list agents: scan: %w", err)
		}
		st := agent.State{
			ID:                    shared.AgentID(id),
			RepoID:                shared.RepoID(repo),
			Status:                agent.ParseStatus(status),
			CurrentBead:           shared.BeadID(beadID.String),
			ImplementationAttempt: uint32(attempt),
			Capabilities:          []string(caps),
		}
		if currentStage.Valid {
			if parsed, err := stage.ParseStage(currentStage.String); err == nil {
				st.CurrentStage = parsed
			}
		}
		if lastUpdate.Valid {
			st.LastHeartbeat = lastUpdate.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
