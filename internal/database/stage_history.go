package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// StartStage inserts a new stage_history row in the "started" status and
// returns its id for the later ResolveStage call.
func (s *Store) StartStage(ctx context.Context, row store.StageHistoryRow) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, rebind(`
		INSERT INTO stage_history (repo_id, agent_id, bead_id, stage, attempt_number, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, now())
		RETURNING id
	`), string(row.RepoID), string(row.AgentID), string(row.BeadID), row.Stage.String(),
		row.AttemptNumber, string(store.StageStatusStarted)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database: start stage: %w", err)
	}
	return id, nil
}

// ResolveStage records the outcome of a previously started stage run.
func (s *Store) ResolveStage(ctx context.Context, id int64, status store.StageHistoryStatus, feedback string, durationMs int64) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		UPDATE stage_history
		SET status = ?, feedback = ?, completed_at = now(), duration_ms = ?
		WHERE id = ?
	`), string(status), feedback, durationMs, id)
	if err != nil {
		return fmt.Errorf("database: resolve stage: %w", err)
	}
	return nil
}

// History returns the most recent stage_history rows for beadID, oldest
// first within the returned window, capped at limit.
func (s *Store) History(ctx context.Context, beadID shared.BeadID, limit int) ([]store.StageHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT id, repo_id, agent_id, bead_id, stage, attempt_number, status, feedback, started_at, completed_at, duration_ms
		FROM stage_history
		WHERE bead_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`), string(beadID), limit)
	if err != nil {
		return nil, fmt.Errorf("database: history: %w", err)
	}
	defer rows.Close()

	var out []store.StageHistoryRow
	for rows.Next() {
		var (
			r            store.StageHistoryRow
			repoID       string
			agentID      string
			bID          string
			stageName    string
			statusStr    string
			feedback     sql.NullString
			completedAt  sql.NullTime
			durationMs   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &repoID, &agentID, &bID, &stageName, &r.AttemptNumber,
			&statusStr, &feedback, &r.StartedAt, &completedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("database: history: scan: %w", err)
		}
		st, err := stage.ParseStage(stageName)
		if err != nil {
			return nil, fmt.Errorf("database: history: %w", err)
		}
		r.RepoID = shared.RepoID(repoID)
		r.AgentID = shared.AgentID(agentID)
		r.BeadID = shared.BeadID(bID)
		r.Stage = st
		r.Status = store.StageHistoryStatus(statusStr)
		r.Feedback = feedback.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if durationMs.Valid {
			d := durationMs.Int64
			r.DurationMs = &d
		}
		out = append(out, r)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Failures returns the most recent failed stage_history rows across
// repoID, newest first, for the monitor "failures" view.
func (s *Store) Failures(ctx context.Context, repoID shared.RepoID, limit int) ([]store.StageHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT id, repo_id, agent_id, bead_id, stage, attempt_number, status, feedback, started_at, completed_at, duration_ms
		FROM stage_history
		WHERE repo_id = ? AND status = 'failed'
		ORDER BY completed_at DESC NULLS LAST
		LIMIT ?
	`), string(repoID), limit)
	if err != nil {
		return nil, fmt.Errorf("database: failures: %w", err)
	}
	defer rows.Close()

	var out []store.StageHistoryRow
	for rows.Next() {
		var (
			r           store.StageHistoryRow
			repo        string
			agentID     string
			bID         string
			stageName   string
			statusStr   string
			feedback    sql.NullString
			completedAt sql.NullTime
			durationMs  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &repo, &agentID, &bID, &stageName, &r.AttemptNumber,
			&statusStr, &feedback, &r.StartedAt, &completedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("database: failures: scan: %w", err)
		}
		st, err := stage.ParseStage(stageName)
		if err != nil {
			return nil, fmt.Errorf("database: failures: %w", err)
		}
		r.RepoID = shared.RepoID(repo)
		r.AgentID = shared.AgentID(agentID)
		r.BeadID = shared.BeadID(bID)
		r.Stage = st
		r.Status = store.StageHistoryStatus(statusStr)
		r.Feedback = feedback.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if durationMs.Valid {
			d := durationMs.Int64
			r.DurationMs = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
