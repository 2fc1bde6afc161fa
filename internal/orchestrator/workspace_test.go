package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
)

func TestCreateWorkspaceToleratesMissingZjjBinary(t *testing.T) {
	w := &ZjjWorkspace{Runner: &extproc.Runner{Timeout: 2 * time.Second}}

	// zjj is not on PATH in the test environment; CreateWorkspace must
	// still report success since a failed workspace add is non-fatal.
	err := w.CreateWorkspace(context.Background(), shared.AgentID("agent-1"), shared.BeadID("bead-7"))
	require.NoError(t, err)
}

func TestFinalizeWorkspaceRunsAllStepsDespiteFailures(t *testing.T) {
	w := &ZjjWorkspace{Runner: &extproc.Runner{Timeout: 2 * time.Second}}

	// None of br/jj/zjj exist on PATH; FinalizeWorkspace must not panic
	// and reports the first step's failure rather than losing it.
	err := w.FinalizeWorkspace(context.Background(), shared.BeadID("bead-7"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "br sync --flush-only")
}
