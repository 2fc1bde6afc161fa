// Package agent holds the AgentState aggregate tracked by the
// orchestrator tick loop.
package agent

import (
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

// ParseStatus recovers a Status from its wire/column string.
func ParseStatus(s string) Status {
	switch s {
	case "idle":
		return StatusIdle
	case "working":
		return StatusWorking
	case "waiting":
		return StatusWaiting
	case "error":
		return StatusError
	case "done":
		return StatusDone
	default:
		return StatusIdle
	}
}

// Status is the high-level state an agent reports between ticks.
type Status int

const (
	StatusIdle Status = iota
	StatusWorking
	StatusWaiting
	StatusError
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusWorking:
		return "working"
	case StatusWaiting:
		return "waiting"
	case StatusError:
		return "error"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// State is the orchestrator's view of one registered agent.
type State struct {
	ID                     shared.AgentID
	RepoID                 shared.RepoID
	Status                 Status
	CurrentBead            shared.BeadID
	CurrentStage           stage.Stage
	ImplementationAttempt  uint32
	LastHeartbeat          time.Time
	Capabilities           []string
}

// IsAvailable reports whether the agent can accept a new claim.
func (s State) IsAvailable() bool {
	return s.Status == StatusIdle || s.Status == StatusDone
}
