package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
)

// ClaimNext picks the highest-priority, oldest open bead with no live
// claim and assigns it to agentID for leaseExtension. It mirrors the
// old cluster-lock steal-on-expiry behavior but scoped to one row of
// bead_backlog/bead_claims rather than a single cluster-wide lock name.
func (s *Store) ClaimNext(ctx context.Context, agentID shared.AgentID, leaseExtension time.Duration) (shared.BeadID, bool, error) {
	var beadID shared.BeadID
	var repoID string
	until := time.Now().Add(leaseExtension)

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, rebind(`
			SELECT b.bead_id, b.repo_id
			FROM bead_backlog b
			LEFT JOIN bead_claims c ON c.bead_id = b.bead_id AND c.status = 'claimed' AND c.until_at > now()
			WHERE b.status = 'open' AND c.bead_id IS NULL
			ORDER BY b.priority DESC, b.created_at ASC
			LIMIT 1
			FOR UPDATE OF b SKIP LOCKED
		`))
		var id, repo string
		if err := row.Scan(&id, &repo); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("select claimable bead: %w", err)
		}

		_, err := tx.ExecContext(ctx, rebind(`
			INSERT INTO bead_claims (bead_id, repo_id, claimed_by, status, until_at, created_at)
			VALUES (?, ?, ?, 'claimed', ?, now())
			ON CONFLICT (bead_id) DO UPDATE SET
				claimed_by = excluded.claimed_by,
				status = 'claimed',
				until_at = excluded.until_at
		`), id, repo, string(agentID), until)
		if err != nil {
			return fmt.Errorf("claim bead: %w", err)
		}

		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE bead_backlog SET status = 'in_progress', updated_at = now() WHERE bead_id = ?
		`), id)
		if err != nil {
			return fmt.Errorf("mark bead in progress: %w", err)
		}

		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE agent_state
			SET status = 'working', bead_id = ?, current_stage = 'rust-contract', implementation_attempt = 1, last_update = now()
			WHERE agent_id = ?
		`), id, string(agentID))
		if err != nil {
			return fmt.Errorf("mark agent working: %w", err)
		}

		beadID = shared.BeadID(id)
		repoID = repo
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("database: claim next: %w", err)
	}
	_ = repoID
	if beadID == "" {
		return "", false, nil
	}
	return beadID, true, nil
}

// ClaimBead assigns one specific open bead to agentID, used by the
// assign service rather than the priority-ordered ClaimNext. It reports
// false, not an error, when the bead is not open or was claimed first by
// someone else.
func (s *Store) ClaimBead(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, leaseExtension time.Duration) (bool, error) {
	until := time.Now().Add(leaseExtension)
	var claimed bool

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		var repoID string
		row := tx.QueryRowContext(ctx, rebind(`
			SELECT b.repo_id
			FROM bead_backlog b
			LEFT JOIN bead_claims c ON c.bead_id = b.bead_id AND c.status = 'claimed' AND c.until_at > now()
			WHERE b.bead_id = ? AND b.status = 'open' AND c.bead_id IS NULL
			FOR UPDATE OF b
		`), string(beadID))
		if err := row.Scan(&repoID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("select claimable bead: %w", err)
		}

		if _, err := tx.ExecContext(ctx, rebind(`
			INSERT INTO bead_claims (bead_id, repo_id, claimed_by, status, until_at, created_at)
			VALUES (?, ?, ?, 'claimed', ?, now())
			ON CONFLICT (bead_id) DO UPDATE SET
				claimed_by = excluded.claimed_by,
				status = 'claimed',
				until_at = excluded.until_at
		`), string(beadID), repoID, string(agentID), until); err != nil {
			return fmt.Errorf("claim bead: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE bead_backlog SET status = 'in_progress', updated_at = now() WHERE bead_id = ?
		`), string(beadID)); err != nil {
			return fmt.Errorf("mark bead in progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE agent_state
			SET status = 'working', bead_id = ?, current_stage = 'rust-contract', implementation_attempt = 1, last_update = now()
			WHERE agent_id = ?
		`), string(beadID), string(agentID)); err != nil {
			return fmt.Errorf("mark agent working: %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("database: claim bead: %w", err)
	}
	return claimed, nil
}

// HeartbeatClaim extends the lease on a claim the caller already holds.
// It reports false, not an error, when the claim no longer belongs to
// agentID (lost to a stale-claim recovery) so callers can re-claim.
func (s *Store) HeartbeatClaim(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, leaseExtension time.Duration) (bool, error) {
	until := time.Now().Add(leaseExtension)
	res, err := s.db.ExecContext(ctx, rebind(`
		UPDATE bead_claims
		SET until_at = ?
		WHERE bead_id = ? AND claimed_by = ? AND status = 'claimed'
	`), until, string(beadID), string(agentID))
	if err != nil {
		return false, fmt.Errorf("database: heartbeat claim: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("database: heartbeat claim: %w", err)
	}
	return rows > 0, nil
}

// RecoverStaleClaims reopens every bead in repoID whose claim lease has
// expired, clears the owning agent back to idle, and emits a
// "bead.claim_recovered" event per bead, returning the count recovered
// so callers can log it.
func (s *Store) RecoverStaleClaims(ctx context.Context, repoID shared.RepoID) (int, error) {
	var recovered int
	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, rebind(`
			SELECT bead_id, claimed_by FROM bead_claims
			WHERE repo_id = ? AND status = 'claimed' AND until_at < now()
		`), string(repoID))
		if err != nil {
			return fmt.Errorf("select stale claims: %w", err)
		}
		type staleClaim struct {
			beadID    string
			claimedBy sql.NullString
		}
		var stale []staleClaim
		for rows.Next() {
			var c staleClaim
			if err := rows.Scan(&c.beadID, &c.claimedBy); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale claim: %w", err)
			}
			stale = append(stale, c)
		}
		rows.Close()

		for _, c := range stale {
			if _, err := tx.ExecContext(ctx, rebind(`
				UPDATE bead_claims SET status = 'open', claimed_by = NULL WHERE bead_id = ?
			`), c.beadID); err != nil {
				return fmt.Errorf("reopen stale claim: %w", err)
			}
			if _, err := tx.ExecContext(ctx, rebind(`
				UPDATE bead_backlog SET status = 'open', updated_at = now() WHERE bead_id = ?
			`), c.beadID); err != nil {
				return fmt.Errorf("reopen stale bead: %w", err)
			}
			if c.claimedBy.Valid {
				if _, err := tx.ExecContext(ctx, rebind(`
					UPDATE agent_state
					SET status = 'idle', bead_id = NULL, current_stage = NULL, last_update = now()
					WHERE agent_id = ? AND bead_id = ?
				`), c.claimedBy.String, c.beadID); err != nil {
					return fmt.Errorf("reset stale claim owner: %w", err)
				}
				if _, err := tx.ExecContext(ctx, rebind(`
					INSERT INTO execution_events (payload_version, event_type, entity_id, bead_id, agent_id, created_at)
					VALUES (1, 'bead.claim_recovered', ?, ?, ?, now())
				`), c.beadID, c.beadID, c.claimedBy.String); err != nil {
					return fmt.Errorf("emit claim recovery event: %w", err)
				}
			}
		}
		recovered = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("database: recover stale claims: %w", err)
	}
	return recovered, nil
}

// Release gives up every claim agentID currently holds, reopening the
// underlying beads.
func (s *Store) Release(ctx context.Context, agentID shared.AgentID) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, rebind(`
			SELECT bead_id FROM bead_claims WHERE claimed_by = ? AND status = 'claimed'
		`), string(agentID))
		if err != nil {
			return fmt.Errorf("select held claims: %w", err)
		}
		var held []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan held claim: %w", err)
			}
			held = append(held, id)
		}
		rows.Close()

		for _, id := range held {
			if _, err := tx.ExecContext(ctx, rebind(`
				UPDATE bead_claims SET status = 'open', claimed_by = NULL WHERE bead_id = ?
			`), id); err != nil {
				return fmt.Errorf("release claim: %w", err)
			}
			if _, err := tx.ExecContext(ctx, rebind(`
				UPDATE bead_backlog SET status = 'open', updated_at = now() WHERE bead_id = ?
			`), id); err != nil {
				return fmt.Errorf("reopen released bead: %w", err)
			}
		}
		return nil
	})
}

// CompleteClaim marks beadID completed and drops its claim, the
// counterpart to MarkBlocked for the RedQueen-passed path.
func (s *Store) CompleteClaim(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE bead_backlog SET status = 'completed', updated_at = now()
			WHERE bead_id = ? AND repo_id = ?
		`), string(beadID), string(repoID)); err != nil {
			return fmt.Errorf("mark bead completed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE bead_claims SET status = 'completed', claimed_by = NULL WHERE bead_id = ?
		`), string(beadID)); err != nil {
			return fmt.Errorf("mark claim completed: %w", err)
		}
		return nil
	})
}

// MarkBlocked records that beadID can no longer make progress, taking it
// out of the claimable backlog and dropping any live claim. reason is
// not stored here; callers persist it as stage_history feedback on the
// blocking attempt, which MarkBlocked is always called alongside.
func (s *Store) MarkBlocked(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, reason string) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE bead_backlog SET status = 'blocked', updated_at = now()
			WHERE bead_id = ? AND repo_id = ?
		`), string(beadID), string(repoID)); err != nil {
			return fmt.Errorf("mark bead blocked: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(`
			UPDATE bead_claims SET status = 'blocked', claimed_by = NULL WHERE bead_id = ?
		`), string(beadID)); err != nil {
			return fmt.Errorf("mark claim blocked: %w", err)
		}
		return nil
	})
}
