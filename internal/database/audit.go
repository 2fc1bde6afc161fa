package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

const maxAuditLimit = 500

// Append records one dispatched command in the audit log. Args are
// expected to already have sensitive values (database URLs, tokens)
// masked by the caller before reaching this store.
func (s *Store) Append(ctx context.Context, row store.AuditRow) error {
	argsJSON, err := json.Marshal(row.Args)
	if err != nil {
		return fmt.Errorf("database: append audit: marshal args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, rebind(`
		INSERT INTO command_audit (t, cmd, args, ok, ms, error_code)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))
	`), row.T, row.Cmd, argsJSON, row.OK, row.Ms, row.ErrorCode)
	if err != nil {
		return fmt.Errorf("database: append audit: %w", err)
	}
	return nil
}

// Recent returns the most recently appended command_audit rows, newest
// first, bounded to maxAuditLimit. It is not part of the store.AuditStore
// port — only the "history" protocol command reads the audit trail, and
// it does so against the concrete Store directly.
func (s *Store) Recent(ctx context.Context, limit int) ([]store.AuditRow, error) {
	if limit <= 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT seq, t, cmd, args, ok, ms, COALESCE(error_code, '')
		FROM command_audit ORDER BY seq DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("database: recent audit: %w", err)
	}
	defer rows.Close()

	var out []store.AuditRow
	for rows.Next() {
		var row store.AuditRow
		var argsJSON []byte
		if err := rows.Scan(&row.Seq, &row.T, &row.Cmd, &argsJSON, &row.OK, &row.Ms, &row.ErrorCode); err != nil {
			return nil, fmt.Errorf("database: recent audit: scan: %w", err)
		}
		if len(argsJSON) > 0 {
			_ = json.Unmarshal(argsJSON, &row.Args)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
