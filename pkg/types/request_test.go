package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequestLineOmitsEmptyArgs(t *testing.T) {
	line, err := NewRequestLine("status", "", false, nil)
	require.NoError(t, err)
	require.Equal(t, "status", line.Cmd)
	require.Nil(t, line.Args)

	raw, err := json.Marshal(line)
	require.NoError(t, err)
	require.JSONEq(t, `{"cmd":"status"}`, string(raw))
}

func TestNewRequestLineEncodesArgs(t *testing.T) {
	line, err := NewRequestLine("lock", "r1", true, map[string]any{
		"resource": "bead-1",
		"agent":    "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, "lock", line.Cmd)
	require.Equal(t, "r1", line.Rid)
	require.True(t, line.Dry)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(line.Args, &decoded))
	require.Equal(t, "bead-1", decoded["resource"])
	require.Equal(t, "agent-1", decoded["agent"])
}

func TestRequestLineRoundTrips(t *testing.T) {
	raw := []byte(`{"cmd":"assign","rid":"r2","args":{"bead_id":"b1","agent_id":"a1"}}`)
	var line RequestLine
	require.NoError(t, json.Unmarshal(raw, &line))
	require.Equal(t, "assign", line.Cmd)
	require.Equal(t, "r2", line.Rid)
	require.False(t, line.Dry)
	require.JSONEq(t, `{"bead_id":"b1","agent_id":"a1"}`, string(line.Args))
}
