package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
)

// ZjjWorkspace creates and tears down per-bead workspaces with zjj, the
// Zellij/jj workspace helper.
type ZjjWorkspace struct {
	Runner *extproc.Runner
}

// CreateWorkspace runs "zjj add agent-<id>-<bead>". A non-zero exit is
// logged, not returned as an error: the workspace may already exist from
// a prior attempt, and the stage executor's own command still runs
// against whatever workspace is current.
func (w *ZjjWorkspace) CreateWorkspace(ctx context.Context, agentID shared.AgentID, beadID shared.BeadID) error {
	cmd := fmt.Sprintf("zjj add agent-%s-%s", agentID, beadID)
	result, err := w.Runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("orchestrator: create workspace: %w", err)
	}
	if result.ExitCode != 0 {
		log.Printf("[Orchestrator] workspace creation for %s may have failed or already exists (exit %d): %s", beadID, result.ExitCode, string(result.Stderr))
	}
	return nil
}

// FinalizeWorkspace flushes beads, pushes the jj change, and releases the
// zjj workspace once a bead completes. Every step runs regardless of
// earlier failures; the first failure's reason is returned. The stage
// executor records a returned error as a workspace.finalize_failed event
// and does not complete the claim.
func (w *ZjjWorkspace) FinalizeWorkspace(ctx context.Context, beadID shared.BeadID) error {
	var firstErr error
	for _, cmd := range []string{"br sync --flush-only", "jj git push", "zjj done"} {
		result, err := w.Runner.Run(ctx, cmd)
		switch {
		case err != nil && firstErr == nil:
			firstErr = fmt.Errorf("%s: %w", cmd, err)
		case err == nil && result.ExitCode != 0 && firstErr == nil:
			firstErr = fmt.Errorf("%s: exit %d: %s", cmd, result.ExitCode, string(result.Stderr))
		}
	}
	if firstErr != nil {
		log.Printf("[Orchestrator] finalize workspace for %s had a non-fatal failure: %v", beadID, firstErr)
	}
	return firstErr
}
