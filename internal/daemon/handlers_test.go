package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/dispatcher"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
)

func fixedClock(now int64) func() int64 {
	return func() int64 { return now }
}

func TestArgString(t *testing.T) {
	args := map[string]any{"a": "x", "b": 1}
	v, ok := argString(args, "a")
	require.True(t, ok)
	require.Equal(t, "x", v)

	_, ok = argString(args, "b")
	require.False(t, ok)

	_, ok = argString(args, "missing")
	require.False(t, ok)
}

func TestArgIntAcceptsJSONFloat(t *testing.T) {
	args := map[string]any{"count": float64(12), "native": 3}
	v, ok := argInt(args, "count")
	require.True(t, ok)
	require.Equal(t, 12, v)

	v, ok = argInt(args, "native")
	require.True(t, ok)
	require.Equal(t, 3, v)

	_, ok = argInt(args, "missing")
	require.False(t, ok)
}

func TestArgInt64AcceptsJSONFloat(t *testing.T) {
	args := map[string]any{"ttl_ms": float64(30000)}
	v, ok := argInt64(args, "ttl_ms")
	require.True(t, ok)
	require.Equal(t, int64(30000), v)
}

func TestRepoIDForFallsBackToDefault(t *testing.T) {
	d := &Deps{repoID: shared.RepoID("default-repo"), now: fixedClock(1)}
	require.Equal(t, shared.RepoID("default-repo"), d.repoIDFor(map[string]any{}))
	require.Equal(t, shared.RepoID("override"), d.repoIDFor(map[string]any{"repo_id": "override"}))
}

func TestMapServiceErrorTranslatesRuntimeErrorKinds(t *testing.T) {
	d := &Deps{now: fixedClock(1000)}
	req := dispatcher.Request{Rid: "r1"}

	cases := []struct {
		err      error
		wantCode string
	}{
		{shared.NewInvariantViolation("bad field"), protocol.CodeInvalid},
		{shared.NewNotFound("missing bead"), protocol.CodeNotFound},
		{shared.NewConflict("already claimed"), protocol.CodeConflict},
	}
	for _, tc := range cases {
		env, handled := d.mapServiceError(req, tc.err)
		require.True(t, handled)
		require.False(t, env.OK)
		require.Equal(t, tc.wantCode, env.Err.Code)
		require.NotEmpty(t, env.Fix)
	}
}

func TestMapServiceErrorLeavesOtherErrorsUnhandled(t *testing.T) {
	d := &Deps{now: fixedClock(1000)}
	env, handled := d.mapServiceError(dispatcher.Request{}, errors.New("boom"))
	require.False(t, handled)
	require.Nil(t, env)
}

func TestHandleHelpLongAndShort(t *testing.T) {
	d := &Deps{now: fixedClock(1000)}

	env, err := d.handleHelp(context.Background(), dispatcher.Request{Rid: "r1"}, map[string]any{}, false)
	require.NoError(t, err)
	require.True(t, env.OK)
	require.Contains(t, string(env.D), `"status"`)

	env, err = d.handleHelp(context.Background(), dispatcher.Request{Rid: "r1"}, map[string]any{"short": "true"}, false)
	require.NoError(t, err)
	require.True(t, env.OK)
	require.NotContains(t, string(env.D), "Summarize swarm-wide progress")
}

func TestInvalidEnvelopeCarriesFix(t *testing.T) {
	env := invalidEnvelope(dispatcher.Request{Rid: "r1"}, 1000, "bad input", "fix it")
	require.False(t, env.OK)
	require.Equal(t, protocol.CodeInvalid, env.Err.Code)
	require.Equal(t, "fix it", env.Fix)
}

func TestDryRunEnvelopeReportsSteps(t *testing.T) {
	env, err := dryRunEnvelope(dispatcher.Request{Rid: "r1"}, 1000, []dispatcher.DryRunStep{
		{Step: 1, Action: "a", Target: "t"},
	}, 250)
	require.NoError(t, err)
	require.True(t, env.OK)
	require.Contains(t, string(env.D), `"would_do"`)
}
