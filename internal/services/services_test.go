package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

type fakeClaims struct {
	backlog []shared.BeadID
	claimed map[shared.BeadID]shared.AgentID
}

func newFakeClaims(backlog ...shared.BeadID) *fakeClaims {
	return &fakeClaims{backlog: backlog, claimed: map[shared.BeadID]shared.AgentID{}}
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
	if _, taken := f.claimed[beadID]; taken {
		return false, nil
	}
	f.claimed[beadID] = agentID
	return true, nil
}
func (f *fakeClaims) HeartbeatClaim(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID, lease time.Duration) (bool, error) {
	return f.claimed[beadID] == agentID, nil
}
func (f *fakeClaims) RecoverStaleClaims(ctx context.Context, repoID shared.RepoID) (int, error) {
	return 0, nil
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
	return nil
}
func (f *fakeClaims) CompleteClaim(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID) error {
	return nil
}

type fakeBacklog struct {
	rows map[shared.BeadID]store.BacklogRow
}

func newFakeBacklog() *fakeBacklog { return &fakeBacklog{rows: map[shared.BeadID]store.BacklogRow{}} }

func (f *fakeBacklog) Enqueue(ctx context.Context, repoID shared.RepoID, beadID shared.BeadID, priority int) error {
	f.rows[beadID] = store.BacklogRow{BeadID: beadID, RepoID: repoID, Status: "open", Priority: priority}
	return nil
}
func (f *fakeBacklog) Get(ctx context.Context, beadID shared.BeadID) (store.BacklogRow, bool, error) {
	row, ok := f.rows[beadID]
	return row, ok, nil
}
func (f *fakeBacklog) CountByStatus(ctx context.Context, repoID shared.RepoID) (map[string]int, error) {
	out := map[string]int{}
	for _, row := range f.rows {
		if row.RepoID == repoID {
			out[row.Status]++
		}
	}
	return out, nil
}

type fakeAgents struct {
	states map[shared.AgentID]agent.State
}

func newFakeAgents(states ...agent.State) *fakeAgents {
	f := &fakeAgents{states: map[shared.AgentID]agent.State{}}
	for _, st := range states {
		f.states[st.ID] = st
	}
	return f
}

func (f *fakeAgents) LoadAgent(ctx context.Context, id shared.AgentID) (agent.State, bool, error) {
	st, ok := f.states[id]
	return st, ok, nil
}
func (f *fakeAgents) SaveAgent(ctx context.Context, st agent.State) error {
	f.states[st.ID] = st
	return nil
}
func (f *fakeAgents) Register(ctx context.Context, repoID shared.RepoID, count int) ([]shared.AgentID, error) {
	ids := make([]shared.AgentID, 0, count)
	for i := 0; i < count; i++ {
		id := shared.AgentID(time.Now().String() + string(rune('a'+i)))
		f.states[id] = agent.State{ID: id, RepoID: repoID, Status: agent.StatusIdle}
		ids = append(ids, id)
	}
	return ids, nil
}
func (f *fakeAgents) ListAgents(ctx context.Context, repoID shared.RepoID) ([]agent.State, error) {
	var out []agent.State
	for _, st := range f.states {
		if st.RepoID == repoID {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeHistory struct{ rows []store.StageHistoryRow }

func (f *fakeHistory) StartStage(ctx context.Context, row store.StageHistoryRow) (int64, error) {
	return 1, nil
}
func (f *fakeHistory) ResolveStage(ctx context.Context, id int64, status store.StageHistoryStatus, feedback string, durationMs int64) error {
	return nil
}
func (f *fakeHistory) History(ctx context.Context, beadID shared.BeadID, limit int) ([]store.StageHistoryRow, error) {
	var out []store.StageHistoryRow
	for _, r := range f.rows {
		if r.BeadID == beadID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeHistory) Failures(ctx context.Context, repoID shared.RepoID, limit int) ([]store.StageHistoryRow, error) {
	var out []store.StageHistoryRow
	for _, r := range f.rows {
		if r.RepoID == repoID && r.Status == store.StageStatusFailed {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeArtifacts struct{ items []store.Artifact }

func (f *fakeArtifacts) PutArtifact(ctx context.Context, a store.Artifact) (int64, error) {
	f.items = append(f.items, a)
	return int64(len(f.items)), nil
}
func (f *fakeArtifacts) ListArtifacts(ctx context.Context, beadID shared.BeadID, t *store.ArtifactType, limit int) ([]store.Artifact, error) {
	return f.items, nil
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

type fakeLocks struct {
	held map[string]shared.AgentID
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: map[string]shared.AgentID{}} }

func (f *fakeLocks) Acquire(ctx context.Context, resource string, agentID shared.AgentID, ttl time.Duration) (time.Time, bool, error) {
	if owner, ok := f.held[resource]; ok && owner != agentID {
		return time.Time{}, false, nil
	}
	f.held[resource] = agentID
	return time.Now().Add(ttl), true, nil
}
func (f *fakeLocks) Unlock(ctx context.Context, resource string, agentID shared.AgentID) (bool, error) {
	if f.held[resource] != agentID {
		return false, nil
	}
	delete(f.held, resource)
	return true, nil
}

type fakeMessages struct {
	delivered int
	inbox     []store.Message
}

func (f *fakeMessages) Broadcast(ctx context.Context, repoID shared.RepoID, from shared.AgentID, body string) (int, error) {
	f.delivered++
	return f.delivered, nil
}
func (f *fakeMessages) Inbox(ctx context.Context, agentID shared.AgentID, limit int) ([]store.Message, error) {
	return f.inbox, nil
}

func newTestServices() (*Services, Ports) {
	ports := Ports{
		Claims:    newFakeClaims("bead-1"),
		Backlog:   newFakeBacklog(),
		Agents:    newFakeAgents(agent.State{ID: "agent-1", RepoID: "repo-1", Status: agent.StatusWorking, CurrentBead: "bead-1"}),
		History:   &fakeHistory{},
		Artifacts: &fakeArtifacts{},
		Events:    &fakeEvents{},
		Locks:     newFakeLocks(),
		Messages:  &fakeMessages{},
	}
	return New(ports, nil), ports
}

func TestLockThenUnlockRoundTrips(t *testing.T) {
	svc, _ := newTestServices()
	ctx := context.Background()

	result, ok, err := svc.Lock(ctx, "repo-1", "agent-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "repo-1", result.Resource)

	released, err := svc.Unlock(ctx, "repo-1", "agent-1")
	require.NoError(t, err)
	require.True(t, released)

	releasedAgain, err := svc.Unlock(ctx, "repo-1", "agent-1")
	require.NoError(t, err)
	require.False(t, releasedAgain)
}

func TestLockRejectsSecondOwnerWhileHeld(t *testing.T) {
	svc, _ := newTestServices()
	ctx := context.Background()

	_, ok, err := svc.Lock(ctx, "repo-1", "agent-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = svc.Lock(ctx, "repo-1", "agent-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBroadcastReturnsDeliveredCount(t *testing.T) {
	svc, _ := newTestServices()
	result, err := svc.Broadcast(context.Background(), "repo-1", "agent-1", "hello")
	require.NoError(t, err)
	require.Equal(t, 1, result.DeliveredTo)
}

func TestMonitorProgressCountsAgentStatuses(t *testing.T) {
	svc, _ := newTestServices()
	result, err := svc.Monitor(context.Background(), "repo-1", "agent-1", MonitorProgressV, 0)
	require.NoError(t, err)
	require.NotNil(t, result.Progress)
	require.Equal(t, 1, result.Progress.Total)
	require.Equal(t, 1, result.Progress.Working)
}

func TestMonitorActiveOmitsIdleAgents(t *testing.T) {
	svc, _ := newTestServices()
	result, err := svc.Monitor(context.Background(), "repo-1", "agent-1", MonitorActive, 0)
	require.NoError(t, err)
	require.Len(t, result.Active, 1)
	require.Equal(t, shared.AgentID("agent-1"), result.Active[0].AgentID)
}

func TestMonitorUnknownViewErrors(t *testing.T) {
	svc, _ := newTestServices()
	_, err := svc.Monitor(context.Background(), "repo-1", "agent-1", MonitorView("bogus"), 0)
	require.Error(t, err)
}

func TestResumeContextNotFoundWhenHistoryEmpty(t *testing.T) {
	svc, _ := newTestServices()
	_, err := svc.ResumeContext(context.Background(), "bead-missing")
	require.Error(t, err)
}

func TestArtifactsEmptyListIsSuccess(t *testing.T) {
	svc, _ := newTestServices()
	artifacts, err := svc.Artifacts(context.Background(), "bead-1", nil, 0)
	require.NoError(t, err)
	require.Empty(t, artifacts)
}

func TestComputePercentilesKnownDistribution(t *testing.T) {
	values := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	p := computePercentiles(values)
	require.Equal(t, int64(50), p.P50Ms)
	require.Equal(t, int64(90), p.P95Ms)
	require.Equal(t, int64(90), p.P99Ms)
}

func TestComputePercentilesEmptyIsZero(t *testing.T) {
	p := computePercentiles(nil)
	require.Equal(t, LoadProfileLatencies{}, p)
}

func TestRecommendLimitsThrottlesOnPressureSignals(t *testing.T) {
	rec := recommendLimits(90, 1, 0, 450)
	require.Less(t, rec.AgentCap, 90)
	require.GreaterOrEqual(t, rec.MaxConnections, 8)
}

func TestRecommendLimitsNoPressureKeepsFullCap(t *testing.T) {
	rec := recommendLimits(40, 0, 0, 50)
	require.Equal(t, 40, rec.AgentCap)
}

func TestLoadProfileSeedsAgentsAndBacklog(t *testing.T) {
	svc, ports := newTestServices()
	result, err := svc.LoadProfile(context.Background(), "repo-1", 2, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 2, result.Agents)
	require.Equal(t, 1, result.Rounds)

	fb := ports.Backlog.(*fakeBacklog)
	require.Len(t, fb.rows, 2)
}
