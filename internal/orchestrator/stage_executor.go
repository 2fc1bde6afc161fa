package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/bead"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// CommandResolver returns the shell command template configured for a
// pipeline stage. {bead_id} and {agent_id} placeholders are substituted
// by extproc.RenderTemplate before the command is spawned.
type CommandResolver interface {
	CommandFor(s stage.Stage) (string, bool)
}

// primaryArtifactType maps a finished stage (and whether it passed) to
// the artifact type its output is stored under.
func primaryArtifactType(s stage.Stage, passed bool) store.ArtifactType {
	switch s {
	case stage.RustContract:
		return store.ArtifactContractDocument
	case stage.Implement:
		return store.ArtifactImplementationCode
	case stage.QaEnforcer:
		if passed {
			return store.ArtifactTestOutput
		}
		return store.ArtifactFailureDetails
	case stage.RedQueen:
		if passed {
			return store.ArtifactQualityGateReport
		}
		return store.ArtifactAdversarialReport
	default:
		return store.ArtifactStageLog
	}
}

// StageExecutor runs the configured command for one agent's current
// stage and drives the resulting transition through to persistence.
type StageExecutor struct {
	runner          *extproc.Runner
	commands        CommandResolver
	maxImplAttempts uint32
	now             func() time.Time
}

// NewStageExecutor builds a StageExecutor. maxImplAttempts bounds the
// Implement stage retry loop before it reports retriesExhausted.
func NewStageExecutor(runner *extproc.Runner, commands CommandResolver, maxImplAttempts uint32, now func() time.Time) *StageExecutor {
	if now == nil {
		now = time.Now
	}
	return &StageExecutor{runner: runner, commands: commands, maxImplAttempts: maxImplAttempts, now: now}
}

// ExecuteWorkResult is the outcome of one stage execution, including the
// transition that was applied.
type ExecuteWorkResult struct {
	Transition stage.Transition
	Reason     string
	Passed     bool
}

// ExecuteWork resolves the stage command, spawns it, captures and
// classifies the result, persists history and the primary artifact,
// decides the transition, and applies its side effects.
func (x *StageExecutor) ExecuteWork(ctx context.Context, ports Ports, st agent.State) (ExecuteWorkResult, error) {
	template, ok := x.commands.CommandFor(st.CurrentStage)
	if !ok {
		return ExecuteWorkResult{}, fmt.Errorf("orchestrator: no command configured for stage %s", st.CurrentStage)
	}
	rendered := extproc.RenderTemplate(template, string(st.CurrentBead), string(st.ID))

	historyID, err := ports.History.StartStage(ctx, store.StageHistoryRow{
		RepoID:        st.RepoID,
		AgentID:       st.ID,
		BeadID:        st.CurrentBead,
		Stage:         st.CurrentStage,
		AttemptNumber: st.ImplementationAttempt,
		Status:        store.StageStatusStarted,
		StartedAt:     x.now(),
	})
	if err != nil {
		return ExecuteWorkResult{}, fmt.Errorf("orchestrator: start stage history: %w", err)
	}

	start := x.now()
	result, runErr := x.runner.Run(ctx, rendered)
	duration := x.now().Sub(start)

	var (
		passed     bool
		feedback   string
	)
	switch {
	case runErr != nil:
		feedback = fmt.Sprintf("spawn error: %v", runErr)
	case result.TimedOut:
		feedback = fmt.Sprintf("timed out after %s", duration)
	case result.ExitCode == 0:
		passed = true
	default:
		msg := string(result.Stderr)
		if msg == "" {
			msg = string(result.Stdout)
		}
		feedback = msg
	}

	status := store.StageStatusFailed
	if passed {
		status = store.StageStatusPassed
	}
	if err := ports.History.ResolveStage(ctx, historyID, status, feedback, duration.Milliseconds()); err != nil {
		return ExecuteWorkResult{}, fmt.Errorf("orchestrator: resolve stage history: %w", err)
	}

	artifactContent := string(result.Stdout)
	if !passed {
		artifactContent = feedback
	}
	if _, err := ports.Artifacts.PutArtifact(ctx, store.Artifact{
		StageHistoryID: historyID,
		ArtifactType:   primaryArtifactType(st.CurrentStage, passed),
		Content:        artifactContent,
		CreatedAt:      x.now(),
	}); err != nil {
		log.Printf("[Orchestrator] warning: failed to persist stage artifact: %v", err)
	}

	exec, err := bead.NewExecution(st.CurrentStage, st.ImplementationAttempt, x.maxImplAttempts, bead.StatusInProgress)
	if err != nil {
		return ExecuteWorkResult{}, fmt.Errorf("orchestrator: execution invariants: %w", err)
	}
	transition, reason, err := exec.DetermineTransition(stageResult(passed))
	if err != nil {
		return ExecuteWorkResult{}, fmt.Errorf("orchestrator: determine transition: %w", err)
	}

	if err := x.applyTransition(ctx, ports, &st, transition, reason, feedback, historyID); err != nil {
		return ExecuteWorkResult{}, err
	}

	if _, err := ports.Events.Emit(ctx, store.Event{
		PayloadVersion: 1,
		EventType:      "stage." + string(status),
		EntityID:       string(st.CurrentBead),
		BeadID:         st.CurrentBead,
		AgentID:        st.ID,
		Stage:          &st.CurrentStage,
		Diagnostics: &store.EventDiagnostics{
			Category:  reasonCategory(reason),
			Retryable: transition.Kind == stage.TransitionRetry,
			Detail:    feedback,
		},
		Timestamp: x.now(),
	}); err != nil {
		log.Printf("[Orchestrator] warning: failed to emit stage event: %v", err)
	}

	log.Printf("[Orchestrator] bead %s stage %s attempt %d: %s (%s)", st.CurrentBead, exec.CurrentStage(), st.ImplementationAttempt, status, reason)

	return ExecuteWorkResult{Transition: transition, Reason: reason, Passed: passed}, nil
}

func stageResult(passed bool) stage.Result {
	if passed {
		return stage.Success
	}
	return stage.Failure
}

func reasonCategory(reason string) string {
	switch reason {
	case "stage_failed_retry", "stage_failed_max_attempts_reached":
		return "failure"
	default:
		return "progress"
	}
}

// applyTransition mutates st and persists the side effects a transition
// implies (history completion, lease release or extension, bead status),
// then saves the agent row. historyID ties a retry packet back to the
// stage_history row that produced it.
func (x *StageExecutor) applyTransition(ctx context.Context, ports Ports, st *agent.State, t stage.Transition, reason, feedback string, historyID int64) error {
	switch t.Kind {
	case stage.TransitionAdvance:
		st.CurrentStage = t.Next
		st.ImplementationAttempt = 1

	case stage.TransitionRetry:
		st.ImplementationAttempt++
		remaining := x.maxImplAttempts - st.ImplementationAttempt + 1
		if _, err := ports.Artifacts.PutArtifact(ctx, store.Artifact{
			StageHistoryID: historyID,
			ArtifactType:   store.ArtifactRetryPacket,
			Content:        fmt.Sprintf("attempt=%d failure_reason=%q remaining_attempts=%d", st.ImplementationAttempt, feedback, remaining),
			CreatedAt:      x.now(),
		}); err != nil {
			log.Printf("[Orchestrator] warning: failed to persist retry packet: %v", err)
		}

	case stage.TransitionComplete:
		completedBead := st.CurrentBead
		pushConfirmed := ports.Workspace == nil
		if ports.Workspace != nil {
			if finalizeErr := ports.Workspace.FinalizeWorkspace(ctx, completedBead); finalizeErr != nil {
				if _, err := ports.Events.Emit(ctx, store.Event{
					PayloadVersion: 1,
					EventType:      "workspace.finalize_failed",
					EntityID:       string(completedBead),
					BeadID:         completedBead,
					AgentID:        st.ID,
					Diagnostics: &store.EventDiagnostics{
						Category:  "failure",
						Retryable: true,
						Detail:    finalizeErr.Error(),
					},
					Timestamp: x.now(),
				}); err != nil {
					log.Printf("[Orchestrator] warning: failed to emit workspace finalize event: %v", err)
				}
			} else {
				pushConfirmed = true
			}
		}
		if err := stage.RequirePushConfirmation(t, pushConfirmed); err != nil {
			return fmt.Errorf("orchestrator: complete transition: %w", err)
		}
		if err := ports.Claims.CompleteClaim(ctx, st.RepoID, st.CurrentBead); err != nil {
			return fmt.Errorf("orchestrator: complete claim: %w", err)
		}
		st.Status = agent.StatusDone
		st.CurrentStage = stage.Done
		st.CurrentBead = ""

	case stage.TransitionBlock:
		reasonMsg := feedback
		if err := ports.Claims.MarkBlocked(ctx, st.RepoID, st.CurrentBead, reasonMsg); err != nil {
			return fmt.Errorf("orchestrator: mark blocked: %w", err)
		}
		st.Status = agent.StatusIdle
		st.CurrentBead = ""

	case stage.TransitionNoOp:
		// no state change
	}

	st.LastHeartbeat = x.now()
	if err := ports.Agents.SaveAgent(ctx, *st); err != nil {
		return fmt.Errorf("orchestrator: save agent after transition: %w", err)
	}
	return nil
}
