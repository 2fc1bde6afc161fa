package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// Emit appends one execution_events row and returns its sequence number.
func (s *Store) Emit(ctx context.Context, e store.Event) (int64, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("database: emit: marshal payload: %w", err)
	}
	var diagJSON []byte
	if e.Diagnostics != nil {
		diagJSON, err = json.Marshal(e.Diagnostics)
		if err != nil {
			return 0, fmt.Errorf("database: emit: marshal diagnostics: %w", err)
		}
	}
	var stageName sql.NullString
	if e.Stage != nil {
		stageName = sql.NullString{String: e.Stage.String(), Valid: true}
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, rebind(`
		INSERT INTO execution_events (payload_version, event_type, entity_id, bead_id, agent_id, stage, causation_id, diagnostics, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		RETURNING sequence
	`), e.PayloadVersion, e.EventType, e.EntityID, string(e.BeadID), string(e.AgentID), stageName,
		e.CausationID, diagJSON, payloadJSON).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("database: emit: %w", err)
	}
	return seq, nil
}

// List returns the most recent events for beadID, oldest first, capped
// at limit.
func (s *Store) List(ctx context.Context, beadID shared.BeadID, limit int) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT sequence, payload_version, event_type, entity_id, bead_id, agent_id, stage, causation_id, diagnostics, payload, created_at
		FROM execution_events
		WHERE bead_id = ?
		ORDER BY sequence DESC
		LIMIT ?
	`), string(beadID), limit)
	if err != nil {
		return nil, fmt.Errorf("database: list events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var (
			e          store.Event
			entityID   string
			bID        sql.NullString
			agentID    sql.NullString
			stageName  sql.NullString
			causation  sql.NullString
			diagJSON   []byte
			payloadRaw []byte
		)
		if err := rows.Scan(&e.Sequence, &e.PayloadVersion, &e.EventType, &entityID, &bID, &agentID,
			&stageName, &causation, &diagJSON, &payloadRaw, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("database: list events: scan: %w", err)
		}
		e.EntityID = entityID
		e.BeadID = shared.BeadID(bID.String)
		e.AgentID = shared.AgentID(agentID.String)
		e.CausationID = causation.String
		if stageName.Valid {
			st, err := stage.ParseStage(stageName.String)
			if err == nil {
				e.Stage = &st
			}
		}
		if len(diagJSON) > 0 {
			var d store.EventDiagnostics
			if err := json.Unmarshal(diagJSON, &d); err != nil {
				return nil, fmt.Errorf("database: list events: unmarshal diagnostics: %w", err)
			}
			e.Diagnostics = &d
		}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
				return nil, fmt.Errorf("database: list events: unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// ListRecent returns the most recent events across all beads in repoID,
// newest first, for the monitor "events" view. Events carry no repo_id
// column of their own, so this joins bead_backlog via bead_id.
func (s *Store) ListRecent(ctx context.Context, repoID shared.RepoID, limit int) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT e.sequence, e.payload_version, e.event_type, e.entity_id, e.bead_id, e.agent_id, e.stage, e.causation_id, e.diagnostics, e.payload, e.created_at
		FROM execution_events e
		JOIN bead_backlog b ON b.bead_id = e.bead_id
		WHERE b.repo_id = ?
		ORDER BY e.sequence DESC
		LIMIT ?
	`), string(repoID), limit)
	if err != nil {
		return nil, fmt.Errorf("database: list recent events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var (
			e          store.Event
			entityID   string
			bID        sql.NullString
			agentID    sql.NullString
			stageName  sql.NullString
			causation  sql.NullString
			diagJSON   []byte
			payloadRaw []byte
		)
		if err := rows.Scan(&e.Sequence, &e.PayloadVersion, &e.EventType, &entityID, &bID, &agentID,
			&stageName, &causation, &diagJSON, &payloadRaw, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("database: list recent events: scan: %w", err)
		}
		e.EntityID = entityID
		e.BeadID = shared.BeadID(bID.String)
		e.AgentID = shared.AgentID(agentID.String)
		e.CausationID = causation.String
		if stageName.Valid {
			st, err := stage.ParseStage(stageName.String)
			if err == nil {
				e.Stage = &st
			}
		}
		if len(diagJSON) > 0 {
			var d store.EventDiagnostics
			if err := json.Unmarshal(diagJSON, &d); err != nil {
				return nil, fmt.Errorf("database: list recent events: unmarshal diagnostics: %w", err)
			}
			e.Diagnostics = &d
		}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
				return nil, fmt.Errorf("database: list recent events: unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
