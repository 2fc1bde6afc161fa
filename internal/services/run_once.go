package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/orchestrator"
)

// RunOnceResult is the payload of a run_once call: the outcome of the
// orchestrator tick plus per-step timings for diagnosing slow steps.
type RunOnceResult struct {
	TickOutcome string           `json:"tick_outcome"`
	Timing      RunOnceTiming    `json:"timing"`
	Progress    MonitorProgress  `json:"progress"`
	ClaimNext   *ClaimNextResult `json:"claim_next,omitempty"`
}

// RunOnceTiming is the {steps_ms} wall-clock breakdown for one RunOnce call.
type RunOnceTiming struct {
	StepsMs map[string]int64 `json:"steps_ms"`
}

// RunOnce sequences doctor -> status -> claim_next -> agent(id) ->
// monitor(progress), recording each step's wall-clock time. A failure in
// claim_next (no recommendable bead) is non-fatal: the sequence still
// ticks the named agent and reports progress, treating run_once as a
// diagnostic sweep rather than an all-or-nothing transaction.
func (s *Services) RunOnce(ctx context.Context, repoID shared.RepoID, agentID shared.AgentID) (RunOnceResult, error) {
	steps := map[string]int64{}

	if _, err := timedStep(steps, "doctor", func() (struct{}, error) {
		_, err := s.ports.Agents.ListAgents(ctx, repoID)
		return struct{}{}, err
	}); err != nil {
		return RunOnceResult{}, fmt.Errorf("services: run_once: doctor: %w", err)
	}

	status, err := timedStep(steps, "status", func() (MonitorProgress, error) {
		return s.progressSnapshot(ctx, repoID)
	})
	if err != nil {
		return RunOnceResult{}, fmt.Errorf("services: run_once: status: %w", err)
	}

	var claimResult *ClaimNextResult
	if _, stepErr := timedStep(steps, "claim_next", func() (struct{}, error) {
		r, err := s.ClaimNext(ctx)
		if err == nil {
			claimResult = &r
		}
		return struct{}{}, err
	}); stepErr != nil {
		claimResult = nil
	}

	outcome, err := timedStep(steps, "agent", func() (orchestrator.Outcome, error) {
		return s.engine.Tick(ctx, agentID)
	})
	if err != nil {
		return RunOnceResult{}, fmt.Errorf("services: run_once: tick: %w", err)
	}

	progress, err := timedStep(steps, "monitor_progress", func() (MonitorProgress, error) {
		return s.progressSnapshot(ctx, repoID)
	})
	if err != nil {
		progress = status
	}

	return RunOnceResult{
		TickOutcome: outcome.String(),
		Timing:      RunOnceTiming{StepsMs: steps},
		Progress:    progress,
		ClaimNext:   claimResult,
	}, nil
}

// timedStep runs fn, recording its wall-clock duration under name in
// steps, and returns fn's result unmodified.
func timedStep[T any](steps map[string]int64, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	steps[name] = time.Since(start).Milliseconds()
	return result, err
}
