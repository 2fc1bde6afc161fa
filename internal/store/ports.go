// Package store declares the repository port interfaces the orchestrator
// and application services depend on. internal/database provides the
// Postgres implementation; tests use small in-memory fakes.
package store

import (
	"context"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

// StageHistoryStatus is the status column of a stage_history row.
type StageHistoryStatus string

const (
	StageStatusStarted StageHistoryStatus = "started"
	StageStatusPassed  StageHistoryStatus = "passed"
	StageStatusFailed  StageHistoryStatus = "failed"
)

// StageHistoryRow is one row of the stage_history table.
type StageHistoryRow struct {
	ID            int64
	RepoID        shared.RepoID
	AgentID       shared.AgentID
	BeadID        shared.BeadID
	Stage         stage.Stage
	AttemptNumber uint32
	Status        StageHistoryStatus
	Feedback      string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
}

// ArtifactType enumerates the kinds of persisted stage output.
type ArtifactType string

const (
	ArtifactContractDocument   ArtifactType = "contract_document"
	ArtifactImplementationCode ArtifactType = "implementation_code"
	ArtifactTestOutput         ArtifactType = "test_output"
	ArtifactFailureDetails     ArtifactType = "failure_details"
	ArtifactQualityGateReport  ArtifactType = "quality_gate_report"
	ArtifactAdversarialReport  ArtifactType = "adversarial_report"
	ArtifactStageLog           ArtifactType = "stage_log"
	ArtifactRetryPacket        ArtifactType = "retry_packet"
)

// ParseArtifactType recovers an ArtifactType from its wire string,
// rejecting anything not in the enumerated set.
func ParseArtifactType(s string) (ArtifactType, error) {
	switch ArtifactType(s) {
	case ArtifactContractDocument, ArtifactImplementationCode, ArtifactTestOutput,
		ArtifactFailureDetails, ArtifactQualityGateReport, ArtifactAdversarialReport,
		ArtifactStageLog, ArtifactRetryPacket:
		return ArtifactType(s), nil
	default:
		return "", shared.NewInvariantViolation("unrecognized artifact type %q", s)
	}
}

// Artifact is one row of the stage_artifacts table.
type Artifact struct {
	ID             int64
	StageHistoryID int64
	ArtifactType   ArtifactType
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
	ContentHash    string
}

// EventDiagnostics is the structured detail attached to some events.
type EventDiagnostics struct {
	Category    string `json:"category"`
	Retryable   bool   `json:"retryable"`
	NextCommand string `json:"next_command,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Event is one append-only execution_events row.
type Event struct {
	Sequence      int64
	PayloadVersion int
	EventType     string
	EntityID      string
	BeadID        shared.BeadID
	AgentID       shared.AgentID
	Stage         *stage.Stage
	CausationID   string
	Diagnostics   *EventDiagnostics
	Payload       map[string]any
	Timestamp     time.Time
}

// Lock is one resource_locks row.
type Lock struct {
	Resource string
	Agent    shared.AgentID
	Since    time.Time
	UntilAt  time.Time
}

// AuditRow is one command_audit row. Args have already been masked before
// reaching this struct.
type AuditRow struct {
	Seq       int64
	T         time.Time
	Cmd       string
	Args      map[string]any
	OK        bool
	Ms        int64
	ErrorCode string
}

// Message is one agent_messages row.
type Message struct {
	ID        int64
	RepoID    shared.RepoID
	From      shared.AgentID
	To        shared.AgentID
	Body      string
	CreatedAt time.Time
}

// ClaimStore is the claim lifecycle port.
type ClaimStore interface {
	ClaimNext(ctx context.Context, agentID shared.AgentID, leaseExtension time.Duration) (shared.BeadID, bool, error)
	ClaimBead(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, leaseExtension time.Duration) (bool, error)
	HeartbeatClaim(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, leaseExtension time.Duration) (bool, error)
	RecoverStaleClaims(ctx context.Context, repoID shared.RepoID) (int, error)
	Release(ctx context.Context, agentID shared.AgentID) error
	MarkBlocked(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, reason string) error
	CompleteClaim(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID) error
}

// BacklogRow is one row of the bead_backlog table.
type BacklogRow struct {
	BeadID    shared.BeadID
	RepoID    shared.RepoID
	Status    string
	Priority  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BacklogStore is the bead backlog port: enqueueing new work (LoadProfile
// seeds its synthetic beads through it), reading a single row, and
// counting rows by status for the progress view.
type BacklogStore interface {
	Enqueue(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, priority int) error
	Get(ctx context.Context, beadID shared.BeadID) (BacklogRow, bool, error)
	CountByStatus(ctx context.Context, repoID shared.RepoID) (map[string]int, error)
}

// AgentStore is the agent registry and state port.
type AgentStore interface {
	LoadAgent(ctx context.Context, agentID shared.AgentID) (agent.State, bool, error)
	SaveAgent(ctx context.Context, state agent.State) error
	Register(ctx context.Context, repoID shared.RepoID, count int) ([]shared.AgentID, error)
	ListAgents(ctx context.Context, repoID shared.RepoID) ([]agent.State, error)
}

// StageHistoryStore records and queries per-attempt stage runs.
type StageHistoryStore interface {
	StartStage(ctx context.Context, row StageHistoryRow) (int64, error)
	ResolveStage(ctx context.Context, id int64, status StageHistoryStatus, feedback string, durationMs int64) error
	History(ctx context.Context, beadID shared.BeadID, limit int) ([]StageHistoryRow, error)
	Failures(ctx context.Context, repoID shared.RepoID, limit int) ([]StageHistoryRow, error)
}

// ArtifactStoreP is the artifact persistence port.
type ArtifactStoreP interface {
	PutArtifact(ctx context.Context, a Artifact) (int64, error)
	ListArtifacts(ctx context.Context, beadID shared.BeadID, artifactType *ArtifactType, limit int) ([]Artifact, error)
}

// EventSink is the append-only execution event port.
type EventSink interface {
	Emit(ctx context.Context, e Event) (int64, error)
	List(ctx context.Context, beadID shared.BeadID, limit int) ([]Event, error)
	ListRecent(ctx context.Context, repoID shared.RepoID, limit int) ([]Event, error)
}

// LockStore is the resource-lock port.
type LockStore interface {
	Acquire(ctx context.Context, resource string, agentID shared.AgentID, ttl time.Duration) (time.Time, bool, error)
	Unlock(ctx context.Context, resource string, agentID shared.AgentID) (bool, error)
}

// AuditStore is the command audit log port.
type AuditStore interface {
	Append(ctx context.Context, row AuditRow) error
}

// MessageStore is the inter-agent broadcast/message port.
type MessageStore interface {
	Broadcast(ctx context.Context, repoID shared.RepoID, from shared.AgentID, body string) (int, error)
	Inbox(ctx context.Context, agentID shared.AgentID, limit int) ([]Message, error)
}
