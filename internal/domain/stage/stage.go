// Package stage implements the fixed pipeline stage enumeration and the
// pure, total transition decision function that drives a bead through it.
package stage

import "fmt"

// Stage is one position in the fixed pipeline.
type Stage int

const (
	RustContract Stage = iota
	Implement
	QaEnforcer
	RedQueen
	Done
)

var stageNames = [...]string{
	RustContract: "rust-contract",
	Implement:    "implement",
	QaEnforcer:   "qa-enforcer",
	RedQueen:     "red-queen",
	Done:         "done",
}

// String renders the wire (kebab-case) form of the stage.
func (s Stage) String() string {
	if int(s) < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// ParseStage recovers a Stage from its wire form. It round-trips with
// String for every defined Stage and returns an error for anything else.
func ParseStage(s string) (Stage, error) {
	for i, name := range stageNames {
		if name == s {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("stage: unrecognized stage %q", s)
}

// IsTerminal reports whether the stage has no successor.
func (s Stage) IsTerminal() bool {
	return s == Done
}

// next returns the stage that follows s in the pipeline. Only valid for
// non-terminal stages; callers must check IsTerminal first.
func (s Stage) next() Stage {
	switch s {
	case RustContract:
		return Implement
	case Implement:
		return QaEnforcer
	case QaEnforcer:
		return RedQueen
	case RedQueen:
		return Done
	default:
		return Done
	}
}

// Result is the outcome a stage executor reports back for a single run.
type Result int

const (
	// Started marks a run as in flight; it can never be fed to Decide.
	Started Result = iota
	Success
	Failure
)

// IsSuccess reports whether the result represents a completed, successful
// run.
func (r Result) IsSuccess() bool {
	return r == Success
}

// TransitionKind discriminates the five transition outcomes.
type TransitionKind int

const (
	TransitionAdvance TransitionKind = iota
	TransitionRetry
	TransitionComplete
	TransitionBlock
	TransitionNoOp
)

// Transition is the outcome of Decide. Next is meaningful only when Kind
// is TransitionAdvance.
type Transition struct {
	Kind TransitionKind
	Next Stage
}

func (t Transition) IsNoOp() bool {
	return t.Kind == TransitionNoOp
}

func (t Transition) ShouldAdvance() bool {
	return t.Kind == TransitionAdvance
}

func (t Transition) ShouldComplete() bool {
	return t.Kind == TransitionComplete
}

func (t Transition) ShouldBlock() bool {
	return t.Kind == TransitionBlock
}

// RequirePushConfirmation is the safety rule guarding Complete: a caller
// must not be able to finalize a bead without explicitly confirming the
// push succeeded. It never alters Decide's own table; it is applied by
// the caller immediately after Decide returns a Transition.
func RequirePushConfirmation(t Transition, pushConfirmed bool) error {
	if t.Kind == TransitionComplete && !pushConfirmed {
		return fmt.Errorf("stage: refusing to emit Complete without push_confirmed=true")
	}
	return nil
}

// Decide is the pure, total transition function. Every (stage, passed,
// retriesExhausted) tuple over the five defined stages has exactly one
// handled case; the default branch only catches Stage values outside
// that set and maps them to NoOp.
func Decide(s Stage, passed bool, retriesExhausted bool) (Transition, string) {
	switch s {
	case RustContract, Implement, QaEnforcer:
		if passed {
			return Transition{Kind: TransitionAdvance, Next: s.next()}, "stage_passed_advance"
		}
	case RedQueen:
		if passed {
			return Transition{Kind: TransitionComplete}, "red_queen_passed_complete"
		}
	case Done:
		if passed {
			return Transition{Kind: TransitionNoOp}, "stage_passed_no_next_stage"
		}
	default:
		return Transition{Kind: TransitionNoOp}, fmt.Sprintf("unrecognized stage %v; no transition", s)
	}

	if retriesExhausted {
		return Transition{Kind: TransitionBlock}, "stage_failed_max_attempts_reached"
	}
	return Transition{Kind: TransitionRetry}, "stage_failed_retry"
}
