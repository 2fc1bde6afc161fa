package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

type fakeClaims struct {
	backlog  []shared.BeadID
	claimed  map[shared.BeadID]shared.AgentID
	blocked  map[shared.BeadID]bool
	complete map[shared.BeadID]bool
	stale    map[shared.BeadID]bool
}

func newFakeClaims(backlog ...shared.BeadID) *fakeClaims {
	return &fakeClaims{
		backlog:  backlog,
		claimed:  map[shared.BeadID]shared.AgentID{},
		blocked:  map[shared.BeadID]bool{},
		complete: map[shared.BeadID]bool{},
		stale:    map[shared.BeadID]bool{},
	}
}

func (f *fakeClaims) ClaimNext(ctx context.Context, agentID shared.AgentID, lease time.Duration) (shared.BeadID, bool, error) {
	for i, b := range f.backlog {
		if _, taken := f.claimed[b]; taken {
			continue
		}
		f.claimed[b] = agentID
		f.backlog = append(f.backlog[:i], f.backlog[i+1:]...)
		return b, true, nil
	}
	return "", false, nil
}

func (f *fakeClaims) ClaimBead(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, lease time.Duration) (bool, error) {
	for i, b := range f.backlog {
		if b != beadID {
			continue
		}
		if _, taken := f.claimed[b]; taken {
			return false, nil
		}
		f.claimed[b] = agentID
		f.backlog = append(f.backlog[:i], f.backlog[i+1:]...)
		return true, nil
	}
	return false, nil
}

func (f *fakeClaims) HeartbeatClaim(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, lease time.Duration) (bool, error) {
	if f.stale[beadID] {
		return false, nil
	}
	return f.claimed[beadID] == agentID, nil
}

func (f *fakeClaims) RecoverStaleClaims(ctx context.Context, repoID shared.RepoID) (int, error) {
	n := 0
	for b := range f.stale {
		delete(f.claimed, b)
		f.backlog = append(f.backlog, b)
		n++
	}
	f.stale = map[shared.BeadID]bool{}
	return n, nil
}

func (f *fakeClaims) Release(ctx context.Context, agentID shared.AgentID) error {
	for b, a := range f.claimed {
		if a == agentID {
			delete(f.claimed, b)
		}
	}
	return nil
}

func (f *fakeClaims) MarkBlocked(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, reason string) error {
	f.blocked[beadID] = true
	delete(f.claimed, beadID)
	return nil
}

func (f *fakeClaims) CompleteClaim(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID) error {
	f.complete[beadID] = true
	delete(f.claimed, beadID)
	return nil
}

type fakeAgents struct {
	states map[shared.AgentID]agent.State
}

func newFakeAgents() *fakeAgents { return &fakeAgents{states: map[shared.AgentID]agent.State{}} }

func (f *fakeAgents) LoadAgent(ctx context.Context, id shared.AgentID) (agent.State, bool, error) {
	st, ok := f.states[id]
	return st, ok, nil
}
func (f *fakeAgents) SaveAgent(ctx context.Context, st agent.State) error {
	f.states[st.ID] = st
	return nil
}
func (f *fakeAgents) Register(ctx context.Context, repoID shared.RepoID, count int) ([]shared.AgentID, error) {
	return nil, nil
}
func (f *fakeAgents) ListAgents(ctx context.Context, repoID shared.RepoID) ([]agent.State, error) {
	return nil, nil
}

type fakeHistory struct{ nextID int64 }

func (f *fakeHistory) StartStage(ctx context.Context, row store.StageHistoryRow) (int64, error) {
	f.nextID++
	return f.nextID, nil
}
func (f *fakeHistory) ResolveStage(ctx context.Context, id int64, status store.StageHistoryStatus, feedback string, durationMs int64) error {
	return nil
}
func (f *fakeHistory) History(ctx context.Context, beadID shared.BeadID, limit int) ([]store.StageHistoryRow, error) {
	return nil, nil
}
func (f *fakeHistory) Failures(ctx context.Context, repoID shared.RepoID, limit int) ([]store.StageHistoryRow, error) {
	return nil, nil
}

type fakeArtifacts struct{ count int }

func (f *fakeArtifacts) PutArtifact(ctx context.Context, a store.Artifact) (int64, error) {
	f.count++
	return int64(f.count), nil
}
func (f *fakeArtifacts) ListArtifacts(ctx context.Context, beadID shared.BeadID, t *store.ArtifactType, limit int) ([]store.Artifact, error) {
	return nil, nil
}

type fakeEvents struct{ events []store.Event }

func (f *fakeEvents) Emit(ctx context.Context, e store.Event) (int64, error) {
	f.events = append(f.events, e)
	return int64(len(f.events)), nil
}
func (f *fakeEvents) List(ctx context.Context, beadID shared.BeadID, limit int) ([]store.Event, error) {
	return f.events, nil
}
func (f *fakeEvents) ListRecent(ctx context.Context, repoID shared.RepoID, limit int) ([]store.Event, error) {
	return f.events, nil
}

type fakeWorkspace struct {
	created   []shared.BeadID
	finalized []shared.BeadID
}

func (f *fakeWorkspace) CreateWorkspace(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID) error {
	f.created = append(f.created, beadID)
	return nil
}

func (f *fakeWorkspace) FinalizeWorkspace(ctx context.Context, beadID shared.BeadID) error {
	f.finalized = append(f.finalized, beadID)
	return nil
}

type failingWorkspace struct{ fakeWorkspace }

func (f *failingWorkspace) FinalizeWorkspace(ctx context.Context, beadID shared.BeadID) error {
	return fmt.Errorf("push rejected")
}

type fixedCommands map[stage.Stage]string

func (c fixedCommands) CommandFor(s stage.Stage) (string, bool) {
	cmd, ok := c[s]
	return cmd, ok
}

func newTestEngine(claims *fakeClaims, agents *fakeAgents, commands fixedCommands) (*Engine, Ports) {
	ports := Ports{
		Claims:    claims,
		Agents:    agents,
		History:   &fakeHistory{},
		Artifacts: &fakeArtifacts{},
		Events:    &fakeEvents{},
		Workspace: &fakeWorkspace{},
	}
	executor := NewStageExecutor(&extproc.Runner{Timeout: 2 * time.Second}, commands, 3, nil)
	return New(ports, executor, nil), ports
}

func TestTickAgentMissingReturnsOutcome(t *testing.T) {
	claims := newFakeClaims()
	agents := newFakeAgents()
	eng, _ := newTestEngine(claims, agents, fixedCommands{})

	outcome, err := eng.Tick(context.Background(), shared.AgentID("ghost"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAgentMissing, outcome)
}

func TestTickIdleClaimsBead(t *testing.T) {
	claims := newFakeClaims("bead-1")
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{ID: "a1", RepoID: "repo-1", Status: agent.StatusIdle}
	eng, _ := newTestEngine(claims, agents, fixedCommands{})

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeProgressed, outcome)
	require.Equal(t, shared.BeadID("bead-1"), agents.states["a1"].CurrentBead)
	require.Equal(t, agent.StatusWorking, agents.states["a1"].Status)
	require.Equal(t, stage.RustContract, agents.states["a1"].CurrentStage)
	require.Equal(t, uint32(1), agents.states["a1"].ImplementationAttempt)
}

func TestTickIdleNoBeadStaysIdle(t *testing.T) {
	claims := newFakeClaims()
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{ID: "a1", RepoID: "repo-1", Status: agent.StatusIdle}
	eng, _ := newTestEngine(claims, agents, fixedCommands{})

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeIdle, outcome)
}

func TestTickWorkingLostClaimReturnsIdle(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	claims.stale["bead-1"] = true
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking, CurrentBead: "bead-1"}
	eng, _ := newTestEngine(claims, agents, fixedCommands{})

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeIdle, outcome)
	require.Equal(t, agent.StatusIdle, agents.states["a1"].Status)
}

func TestTickWorkingExecutesStageAndAdvances(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.RustContract, ImplementationAttempt: 1,
	}
	commands := fixedCommands{stage.RustContract: "echo contract"}
	eng, _ := newTestEngine(claims, agents, commands)

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeProgressed, outcome)
	require.Equal(t, stage.Implement, agents.states["a1"].CurrentStage)
	require.Equal(t, uint32(1), agents.states["a1"].ImplementationAttempt)
}

func TestTickWorkingFailureRetries(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.Implement, ImplementationAttempt: 1,
	}
	commands := fixedCommands{stage.Implement: "exit 1"}
	artifacts := &recordingArtifacts{}
	ports := Ports{
		Claims:    claims,
		Agents:    agents,
		History:   &fakeHistory{},
		Artifacts: artifacts,
		Events:    &fakeEvents{},
		Workspace: &fakeWorkspace{},
	}
	executor := NewStageExecutor(&extproc.Runner{Timeout: 2 * time.Second}, commands, 3, nil)
	eng := New(ports, executor, nil)

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeProgressed, outcome)
	require.Equal(t, uint32(2), agents.states["a1"].ImplementationAttempt)
	require.Equal(t, stage.Implement, agents.states["a1"].CurrentStage)

	retry := artifacts.find(store.ArtifactRetryPacket)
	require.NotNil(t, retry)
	require.NotZero(t, retry.StageHistoryID)
	require.Contains(t, retry.Content, "remaining_attempts=2")
}

type recordingArtifacts struct {
	puts []store.Artifact
}

func (r *recordingArtifacts) PutArtifact(ctx context.Context, a store.Artifact) (int64, error) {
	r.puts = append(r.puts, a)
	return int64(len(r.puts)), nil
}

func (r *recordingArtifacts) ListArtifacts(ctx context.Context, beadID shared.BeadID, t *store.ArtifactType, limit int) ([]store.Artifact, error) {
	return nil, nil
}

func (r *recordingArtifacts) find(t store.ArtifactType) *store.Artifact {
	for i := range r.puts {
		if r.puts[i].ArtifactType == t {
			return &r.puts[i]
		}
	}
	return nil
}

func TestTickWorkingRetriesExhaustedBlocks(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.Implement, ImplementationAttempt: 3,
	}
	commands := fixedCommands{stage.Implement: "exit 1"}
	eng, _ := newTestEngine(claims, agents, commands)

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeIdle, outcome)
	require.True(t, claims.blocked["bead-1"])
	require.Equal(t, agent.StatusIdle, agents.states["a1"].Status)
}

func TestTickWorkingRedQueenPassCompletes(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.RedQueen, ImplementationAttempt: 1,
	}
	commands := fixedCommands{stage.RedQueen: "echo ok"}
	eng, _ := newTestEngine(claims, agents, commands)

	outcome, err := eng.Tick(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)
	require.True(t, claims.complete["bead-1"])
	require.Equal(t, agent.StatusDone, agents.states["a1"].Status)
}

func TestTickWorkingRedQueenPassFinalizeFailureBlocksCompletion(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.RedQueen, ImplementationAttempt: 1,
	}
	events := &fakeEvents{}
	ports := Ports{
		Claims:    claims,
		Agents:    agents,
		History:   &fakeHistory{},
		Artifacts: &fakeArtifacts{},
		Events:    events,
		Workspace: &failingWorkspace{},
	}
	executor := NewStageExecutor(&extproc.Runner{Timeout: 2 * time.Second}, fixedCommands{stage.RedQueen: "echo ok"}, 3, nil)
	eng := New(ports, executor, nil)

	_, err := eng.Tick(context.Background(), "a1")
	require.Error(t, err)
	require.False(t, claims.complete["bead-1"])
	require.Contains(t, eventTypesFromStore(events.events), "workspace.finalize_failed")
}

func eventTypesFromStore(events []store.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func TestTickMissingCommandTemplateErrors(t *testing.T) {
	claims := newFakeClaims()
	claims.claimed["bead-1"] = "a1"
	agents := newFakeAgents()
	agents.states["a1"] = agent.State{
		ID: "a1", RepoID: "repo-1", Status: agent.StatusWorking,
		CurrentBead: "bead-1", CurrentStage: stage.RustContract, ImplementationAttempt: 1,
	}
	eng, _ := newTestEngine(claims, agents, fixedCommands{})

	_, err := eng.Tick(context.Background(), "a1")
	require.Error(t, err)
}

func ExampleOutcome_String() {
	fmt.Println(OutcomeProgressed)
	// Output: progressed
}
