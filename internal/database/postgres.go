package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL. Used
// throughout this package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// NewPostgres opens a connection to dsn, verifies it, and initializes the
// schema. Callers that already resolved a DSN via dbresolve use this
// directly instead of NewFromEnv.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: failed to ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates every logical table named in the persisted state
// layout, plus the indexes the claim/recovery/monitor paths query by.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_state (
		agent_id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		bead_id TEXT,
		current_stage TEXT,
		implementation_attempt INTEGER NOT NULL DEFAULT 0,
		capabilities TEXT[],
		last_update TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS bead_backlog (
		bead_id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		priority INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS bead_claims (
		bead_id TEXT PRIMARY KEY REFERENCES bead_backlog(bead_id) ON DELETE CASCADE,
		repo_id TEXT NOT NULL,
		claimed_by TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		until_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS stage_history (
		id BIGSERIAL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		bead_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		feedback TEXT,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		duration_ms BIGINT
	);

	CREATE TABLE IF NOT EXISTS stage_artifacts (
		id BIGSERIAL PRIMARY KEY,
		stage_history_id BIGINT NOT NULL REFERENCES stage_history(id) ON DELETE CASCADE,
		artifact_type TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB,
		content_hash TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS execution_events (
		sequence BIGSERIAL PRIMARY KEY,
		payload_version INTEGER NOT NULL DEFAULT 1,
		event_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		bead_id TEXT,
		agent_id TEXT,
		stage TEXT,
		causation_id TEXT,
		diagnostics JSONB,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS agent_messages (
		id BIGSERIAL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS command_audit (
		seq BIGSERIAL PRIMARY KEY,
		t TIMESTAMPTZ NOT NULL DEFAULT now(),
		cmd TEXT NOT NULL,
		args JSONB,
		ok BOOLEAN NOT NULL,
		ms BIGINT NOT NULL,
		error_code TEXT
	);

	CREATE TABLE IF NOT EXISTS resource_locks (
		resource TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		since TIMESTAMPTZ NOT NULL DEFAULT now(),
		until_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS swarm_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_agent_state_status ON agent_state(status);
	CREATE INDEX IF NOT EXISTS idx_agent_state_repo_id ON agent_state(repo_id);
	CREATE INDEX IF NOT EXISTS idx_bead_backlog_repo_status ON bead_backlog(repo_id, status, priority DESC);
	CREATE INDEX IF NOT EXISTS idx_bead_claims_status ON bead_claims(status);
	CREATE INDEX IF NOT EXISTS idx_bead_claims_until_at ON bead_claims(until_at);
	CREATE INDEX IF NOT EXISTS idx_stage_history_bead_id ON stage_history(bead_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_stage_artifacts_history_id ON stage_artifacts(stage_history_id);
	CREATE INDEX IF NOT EXISTS idx_execution_events_bead_id ON execution_events(bead_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_agent_messages_to_agent ON agent_messages(to_agent, created_at);
	CREATE INDEX IF NOT EXISTS idx_command_audit_t ON command_audit(t);
	CREATE INDEX IF NOT EXISTS idx_resource_locks_until_at ON resource_locks(until_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
