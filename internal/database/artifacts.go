package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// PutArtifact persists one stage_artifacts row, stamping a content hash
// so ListArtifacts callers can detect duplicate uploads cheaply.
func (s *Store) PutArtifact(ctx context.Context, a store.Artifact) (int64, error) {
	sum := sha256.Sum256([]byte(a.Content))
	hash := hex.EncodeToString(sum[:])

	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return 0, fmt.Errorf("database: put artifact: marshal metadata: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, rebind(`
		INSERT INTO stage_artifacts (stage_history_id, artifact_type, content, metadata, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, now())
		RETURNING id
	`), a.StageHistoryID, string(a.ArtifactType), a.Content, metaJSON, hash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database: put artifact: %w", err)
	}
	return id, nil
}

// ListArtifacts returns artifacts attached to beadID's stage history,
// most recent first, optionally filtered to one artifactType.
func (s *Store) ListArtifacts(ctx context.Context, beadID shared.BeadID, artifactType *store.ArtifactType, limit int) ([]store.Artifact, error) {
	query := `
		SELECT a.id, a.stage_history_id, a.artifact_type, a.content, a.metadata, a.content_hash, a.created_at
		FROM stage_artifacts a
		JOIN stage_history h ON h.id = a.stage_history_id
		WHERE h.bead_id = ?`
	args := []any{string(beadID)}
	if artifactType != nil {
		query += " AND a.artifact_type = ?"
		args = append(args, string(*artifactType))
	}
	query += " ORDER BY a.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("database: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []store.Artifact
	for rows.Next() {
		var (
			a         store.Artifact
			typeName  string
			metaJSON  []byte
			hash      sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.StageHistoryID, &typeName, &a.Content, &metaJSON, &hash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: list artifacts: scan: %w", err)
		}
		parsed, err := store.ParseArtifactType(typeName)
		if err != nil {
			return nil, fmt.Errorf("database: list artifacts: %w", err)
		}
		a.ArtifactType = parsed
		a.ContentHash = hash.String
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("database: list artifacts: unmarshal metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
