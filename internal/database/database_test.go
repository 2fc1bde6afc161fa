package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "swarm"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "swarm"
	}

	adminDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable connect_timeout=5", host, port, user, password)
	adminDB, err := sql.Open("postgres", adminDSN)
	if err != nil {
		t.Skipf("skipping: cannot connect to postgres: %v", err)
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("skipping: postgres not available: %v", err)
	}

	testDBName := fmt.Sprintf("swarm_test_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE "` + testDBName + `"`); err != nil {
		adminDB.Close()
		t.Skipf("skipping: cannot create test database: %v", err)
	}
	adminDB.Close()

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, testDBName)
	st, err := NewPostgres(dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		st.Close()
		adminDB2, err := sql.Open("postgres", adminDSN)
		if err != nil {
			return
		}
		defer adminDB2.Close()
		adminDB2.Exec(`DROP DATABASE IF EXISTS "` + testDBName + `"`)
	})

	return st
}

func TestNewPostgresInitializesSchema(t *testing.T) {
	st := newTestStore(t)
	var count int
	err := st.db.QueryRow(`SELECT count(*) FROM information_schema.tables WHERE table_name = 'bead_backlog'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSetAndGetConfigValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetConfigValue(ctx, "max_retries")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SetConfigValue(ctx, "max_retries", "3"))
	value, ok, err := st.GetConfigValue(ctx, "max_retries")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", value)

	require.NoError(t, st.SetConfigValue(ctx, "max_retries", "5"))
	value, _, _ = st.GetConfigValue(ctx, "max_retries")
	require.Equal(t, "5", value)
}

func TestClaimNextAndRecoverStaleClaims(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID := shared.RepoID("repo-1")

	_, err := st.db.Exec(`INSERT INTO bead_backlog (bead_id, repo_id, status, priority) VALUES ('bead-1', $1, 'open', 10)`, string(repoID))
	require.NoError(t, err)

	require.NoError(t, st.SaveAgent(ctx, agent.State{
		ID: shared.AgentID("agent-1"), RepoID: repoID,
		Status: agent.StatusWorking, CurrentBead: shared.BeadID("bead-1"),
		CurrentStage: stage.Implement,
	}))

	beadID, ok, err := st.ClaimNext(ctx, shared.AgentID("agent-1"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, shared.BeadID("bead-1"), beadID)

	_, ok, err = st.ClaimNext(ctx, shared.AgentID("agent-2"), 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	recovered, err := st.RecoverStaleClaims(ctx, repoID)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	recoveredAgent, ok, err := st.LoadAgent(ctx, shared.AgentID("agent-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, agent.StatusIdle, recoveredAgent.Status)
	require.Empty(t, recoveredAgent.CurrentBead)

	events, err := st.List(ctx, shared.BeadID("bead-1"), 10)
	require.NoError(t, err)
	require.Contains(t, eventTypes(events), "bead.claim_recovered")

	beadID, ok, err = st.ClaimNext(ctx, shared.AgentID("agent-2"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, shared.BeadID("bead-1"), beadID)
}

func eventTypes(events []store.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func TestAgentRegisterLoadSave(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID := shared.RepoID("repo-1")

	ids, err := st.Register(ctx, repoID, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	loaded, ok, err := st.LoadAgent(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, agent.StatusIdle, loaded.Status)

	loaded.Status = agent.StatusWorking
	loaded.LastHeartbeat = time.Now()
	require.NoError(t, st.SaveAgent(ctx, loaded))

	reloaded, ok, err := st.LoadAgent(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, agent.StatusWorking, reloaded.Status)

	all, err := st.ListAgents(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestResourceLockAcquireAndUnlock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.Acquire(ctx, "repo-tmp", shared.AgentID("agent-1"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = st.Acquire(ctx, "repo-tmp", shared.AgentID("agent-2"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = st.Acquire(ctx, "repo-tmp", shared.AgentID("agent-2"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := st.Unlock(ctx, "repo-tmp", shared.AgentID("agent-1"))
	require.NoError(t, err)
	require.False(t, released)

	released, err = st.Unlock(ctx, "repo-tmp", shared.AgentID("agent-2"))
	require.NoError(t, err)
	require.True(t, released)
}

func TestBroadcastAndInbox(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID := shared.RepoID("repo-1")

	ids, err := st.Register(ctx, repoID, 3)
	require.NoError(t, err)

	count, err := st.Broadcast(ctx, repoID, ids[0], "hello")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	inbox, err := st.Inbox(ctx, ids[1], 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "hello", inbox[0].Body)
}
