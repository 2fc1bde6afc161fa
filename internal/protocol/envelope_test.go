package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
)

func TestSuccessEnvelopeWellFormed(t *testing.T) {
	env, err := protocol.Success("r1", 1000, map[string]string{"hello": "world"})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, true, decoded["ok"])
	require.Contains(t, decoded, "t")
}

func TestErrorEnvelopeCarriesFixAndCtx(t *testing.T) {
	env := protocol.NewError("r2", 1000, protocol.CodeInvalid, "bad field").
		WithFix("pass a valid field").
		WithCtx(map[string]string{"field": "resource"})
	require.False(t, env.OK)
	require.Equal(t, protocol.CodeInvalid, env.Err.Code)
	require.NotEmpty(t, env.Fix)
	require.NotEmpty(t, env.Err.Ctx)
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, 2, protocol.ExitCode(protocol.CodeInvalid))
	require.Equal(t, 5, protocol.ExitCode(protocol.CodeNotFound))
	require.Equal(t, 3, protocol.ExitCode(protocol.CodeInternal))
}
