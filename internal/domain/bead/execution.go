// Package bead holds the BeadExecution aggregate: the per-bead attempt
// counters and status invariants that gate every stage transition.
package bead

import (
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

// Status mirrors BeadExecutionStatus from the data model.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusBlocked
	StatusCompleted
)

// Execution is the aggregate invariant-checker for one bead's run state.
type Execution struct {
	currentStage          stage.Stage
	implementationAttempt uint32
	maxImplAttempts       uint32
	status                Status
}

// NewExecution builds an Execution, rejecting any combination that
// violates the invariants checked by ValidateInvariants.
func NewExecution(currentStage stage.Stage, attempt, maxAttempts uint32, status Status) (Execution, error) {
	e := Execution{
		currentStage:          currentStage,
		implementationAttempt: attempt,
		maxImplAttempts:       maxAttempts,
		status:                status,
	}
	if err := e.ValidateInvariants(); err != nil {
		return Execution{}, err
	}
	return e, nil
}

func (e Execution) CurrentStage() stage.Stage       { return e.currentStage }
func (e Execution) ImplementationAttempt() uint32    { return e.implementationAttempt }
func (e Execution) MaxImplementationAttempts() uint32 { return e.maxImplAttempts }
func (e Execution) Status() Status                   { return e.status }

// DetermineTransition applies the pure stage decision function to this
// execution's state and a stage result. It returns an invariant-violation
// error for a Started result, which can never produce a transition.
func (e Execution) DetermineTransition(result stage.Result) (stage.Transition, string, error) {
	if err := e.ValidateInvariants(); err != nil {
		return stage.Transition{}, "", err
	}
	if result == stage.Started {
		return stage.Transition{}, "", shared.NewInvariantViolation("stage result Started cannot produce a transition decision")
	}
	retryExhausted := e.implementationAttempt >= e.maxImplAttempts
	t, reason := stage.Decide(e.currentStage, result.IsSuccess(), retryExhausted)
	return t, reason, nil
}

// ValidateInvariants checks the four rules every Execution must satisfy
// at rest: max_attempts must be positive, attempt never exceeds max,
// Completed status implies Done stage and vice versa, and Blocked status
// can never coexist with Done stage.
func (e Execution) ValidateInvariants() error {
	if e.maxImplAttempts == 0 {
		return shared.NewInvariantViolation("max_implementation_attempts must be greater than zero")
	}
	if e.implementationAttempt > e.maxImplAttempts {
		return shared.NewInvariantViolation("implementation_attempt %d exceeds max_implementation_attempts %d", e.implementationAttempt, e.maxImplAttempts)
	}
	if e.status == StatusCompleted && e.currentStage != stage.Done {
		return shared.NewInvariantViolation("execution with Completed status must be in Done stage")
	}
	if e.currentStage == stage.Done && e.status != StatusCompleted {
		return shared.NewInvariantViolation("execution in Done stage must have Completed status")
	}
	if e.status == StatusBlocked && e.currentStage == stage.Done {
		return shared.NewInvariantViolation("execution cannot be Blocked in Done stage")
	}
	return nil
}
