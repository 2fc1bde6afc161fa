// Package orchestrator drives one agent through the claim-heartbeat-
// execute-transition cycle described by the stage DAG and claim
// lifecycle in internal/domain and internal/store.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// DefaultLeaseExtension is the heartbeat/claim lease length.
const DefaultLeaseExtension = 300_000 * time.Millisecond

// Outcome is the result of one tick.
type Outcome int

const (
	OutcomeAgentMissing Outcome = iota
	OutcomeIdle
	OutcomeProgressed
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAgentMissing:
		return "agent_missing"
	case OutcomeIdle:
		return "idle"
	case OutcomeProgressed:
		return "progressed"
	case OutcomeCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// WorkspaceCreator is the external port invoked the moment an agent
// claims a fresh bead, before any stage executes against it, and again
// once a TransitionComplete retires that bead's workspace.
type WorkspaceCreator interface {
	CreateWorkspace(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID) error
	FinalizeWorkspace(ctx context.Context, beadID shared.BeadID) error
}

// Ports bundles every store dependency the engine needs. Tests supply
// small in-memory fakes implementing the same interfaces.
type Ports struct {
	Claims   store.ClaimStore
	Agents   store.AgentStore
	History  store.StageHistoryStore
	Artifacts store.ArtifactStoreP
	Events   store.EventSink
	Workspace WorkspaceCreator
}

// Engine runs tick() for one agent at a time. Distinct agents may run
// concurrently against the same Engine; the claim row on the store is
// the only coordination primitive required.
type Engine struct {
	ports    Ports
	executor *StageExecutor
	lease    time.Duration
	now      func() time.Time
}

// New builds an Engine. now defaults to time.Now when nil.
func New(ports Ports, executor *StageExecutor, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{ports: ports, executor: executor, lease: DefaultLeaseExtension, now: now}
}

// Tick runs one turn of the crank for agentID: recover any stale claim
// for the agent's repo, then branch on the agent's current status.
func (e *Engine) Tick(ctx context.Context, agentID shared.AgentID) (Outcome, error) {
	st, ok, err := e.ports.Agents.LoadAgent(ctx, agentID)
	if err != nil {
		return OutcomeAgentMissing, fmt.Errorf("orchestrator: load agent: %w", err)
	}
	if !ok {
		return OutcomeAgentMissing, nil
	}

	if _, err := e.ports.Claims.RecoverStaleClaims(ctx, st.RepoID); err != nil {
		return OutcomeAgentMissing, fmt.Errorf("orchestrator: recover stale claims: %w", err)
	}

	switch st.Status {
	case agent.StatusDone:
		log.Printf("[Orchestrator] agent %s already done", agentID)
		return OutcomeCompleted, nil

	case agent.StatusIdle:
		return e.tickIdle(ctx, st)

	case agent.StatusWorking, agent.StatusWaiting:
		return e.tickWorking(ctx, st)

	case agent.StatusError:
		log.Printf("[Orchestrator] agent %s in error state, awaiting operator", agentID)
		return OutcomeIdle, nil

	default:
		return OutcomeIdle, nil
	}
}

func (e *Engine) tickIdle(ctx context.Context, st agent.State) (Outcome, error) {
	beadID, ok, err := e.ports.Claims.ClaimNext(ctx, st.ID, e.lease)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("orchestrator: claim next: %w", err)
	}
	if !ok {
		return OutcomeIdle, nil
	}

	if err := e.ports.Workspace.CreateWorkspace(ctx, st.ID, beadID); err != nil {
		return OutcomeIdle, fmt.Errorf("orchestrator: create workspace: %w", err)
	}

	st.Status = agent.StatusWorking
	st.CurrentBead = beadID
	st.CurrentStage = stage.RustContract
	st.ImplementationAttempt = 1
	st.LastHeartbeat = e.now()
	if err := e.ports.Agents.SaveAgent(ctx, st); err != nil {
		return OutcomeIdle, fmt.Errorf("orchestrator: save agent after claim: %w", err)
	}

	if _, err := e.ports.Events.Emit(ctx, store.Event{
		PayloadVersion: 1,
		EventType:      "bead.claimed",
		EntityID:       string(beadID),
		BeadID:         beadID,
		AgentID:        st.ID,
		Timestamp:      e.now(),
	}); err != nil {
		log.Printf("[Orchestrator] warning: failed to emit claim event: %v", err)
	}

	log.Printf("[Orchestrator] agent %s claimed bead %s", st.ID, beadID)
	return OutcomeProgressed, nil
}

func (e *Engine) tickWorking(ctx context.Context, st agent.State) (Outcome, error) {
	if st.CurrentBead == "" {
		return OutcomeIdle, nil
	}

	held, err := e.ports.Claims.HeartbeatClaim(ctx, st.ID, st.CurrentBead, e.lease)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("orchestrator: heartbeat claim: %w", err)
	}
	if !held {
		log.Printf("[Orchestrator] agent %s lost claim on bead %s to recovery", st.ID, st.CurrentBead)
		st.Status = agent.StatusIdle
		st.CurrentBead = ""
		if err := e.ports.Agents.SaveAgent(ctx, st); err != nil {
			return OutcomeIdle, fmt.Errorf("orchestrator: save agent after lost claim: %w", err)
		}
		return OutcomeIdle, nil
	}

	result, err := e.executor.ExecuteWork(ctx, e.ports, st)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("orchestrator: execute work: %w", err)
	}

	switch result.Transition.Kind {
	case stage.TransitionComplete:
		return OutcomeCompleted, nil
	case stage.TransitionBlock, stage.TransitionNoOp:
		return OutcomeIdle, nil
	default:
		return OutcomeProgressed, nil
	}
}
