package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// Enqueue inserts one open bead_backlog row, the entry point for new work
// (used directly by load-profile's synthetic seeding and indirectly by
// whatever upstream process files real beads).
func (s *Store) Enqueue(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, priority int) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO bead_backlog (bead_id, repo_id, status, priority, created_at, updated_at)
		VALUES (?, ?, 'open', ?, now(), now())
		ON CONFLICT (bead_id) DO NOTHING
	`), string(beadID), string(repoID), priority)
	if err != nil {
		return fmt.Errorf("database: enqueue: %w", err)
	}
	return nil
}

// Get reads one bead_backlog row. The bool return is false when no such
// bead is filed.
func (s *Store) Get(ctx context.Context, beadID shared.BeadID) (store.BacklogRow, bool, error) {
	var row store.BacklogRow
	var repoID, beadIDStr string
	err := s.db.QueryRowContext(ctx, rebind(`
		SELECT bead_id, repo_id, status, priority, created_at, updated_at
		FROM bead_backlog WHERE bead_id = ?
	`), string(beadID)).Scan(&beadIDStr, &repoID, &row.Status, &row.Priority, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return store.BacklogRow{}, false, nil
	}
	if err != nil {
		return store.BacklogRow{}, false, fmt.Errorf("database: get backlog row: %w", err)
	}
	row.BeadID = shared.BeadID(beadIDStr)
	row.RepoID = shared.RepoID(repoID)
	return row, true, nil
}

// CountByStatus returns the number of bead_backlog rows per status for
// repoID, used by the monitor "progress" view's backlog summary.
func (s *Store) CountByStatus(ctx context.Context, repoID shared.RepoID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT status, count(*) FROM bead_backlog WHERE repo_id = ? GROUP BY status
	`), string(repoID))
	if err != nil {
		return nil, fmt.Errorf("database: count backlog by status: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("database: count backlog by status: scan: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}
