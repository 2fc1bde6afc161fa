package services

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// MonitorView names one of the five monitor payload shapes.
type MonitorView string

const (
	MonitorActive     MonitorView = "active"
	MonitorProgressV  MonitorView = "progress"
	MonitorFailures   MonitorView = "failures"
	MonitorEvents     MonitorView = "events"
	MonitorMessages   MonitorView = "messages"
)

// MonitorActiveRow is one row of the "active" view.
type MonitorActiveRow struct {
	AgentID shared.AgentID `json:"agent_id"`
	BeadID  shared.BeadID  `json:"bead_id,omitempty"`
	Status  string         `json:"status"`
}

// MonitorProgress is the payload of the "progress" view: agent status
// counts plus the backlog status breakdown.
type MonitorProgress struct {
	Total   int            `json:"total"`
	Working int            `json:"working"`
	Idle    int            `json:"idle"`
	Waiting int            `json:"waiting"`
	Done    int            `json:"done"`
	Errors  int            `json:"errors"`
	Backlog map[string]int `json:"backlog"`
}

// MonitorFailureRow is one row of the "failures" view.
type MonitorFailureRow struct {
	BeadID      shared.BeadID `json:"bead_id"`
	AgentID     shared.AgentID `json:"agent_id"`
	Stage       string        `json:"stage"`
	Attempt     uint32        `json:"attempt"`
	Feedback    string        `json:"feedback"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

// MonitorResult wraps whichever view payload was requested so the
// dispatcher handler can marshal a single {view, rows|...} shape.
type MonitorResult struct {
	View     MonitorView         `json:"view"`
	Active   []MonitorActiveRow  `json:"rows,omitempty"`
	Progress *MonitorProgress    `json:"-"`
	Failures []MonitorFailureRow `json:"-"`
	Events   []store.Event       `json:"-"`
	Messages []store.Message     `json:"-"`
}

// Monitor dispatches to the view-specific renderer for view.
func (s *Services) Monitor(ctx context.Context, repoID shared.RepoID, agentID shared.AgentID, view MonitorView, limit int) (MonitorResult, error) {
	limit = clampLimit(limit)
	switch view {
	case MonitorActive:
		rows, err := s.activeRows(ctx, repoID)
		return MonitorResult{View: view, Active: rows}, err
	case MonitorProgressV:
		p, err := s.progressSnapshot(ctx, repoID)
		return MonitorResult{View: MonitorProgressV, Progress: &p}, err
	case MonitorFailures:
		rows, err := s.ports.History.Failures(ctx, repoID, limit)
		if err != nil {
			return MonitorResult{}, fmt.Errorf("services: monitor failures: %w", err)
		}
		return MonitorResult{View: view, Failures: toFailureRows(rows)}, nil
	case MonitorEvents:
		events, err := s.ports.Events.ListRecent(ctx, repoID, limit)
		if err != nil {
			return MonitorResult{}, fmt.Errorf("services: monitor events: %w", err)
		}
		return MonitorResult{View: view, Events: events}, nil
	case MonitorMessages:
		msgs, err := s.ports.Messages.Inbox(ctx, agentID, limit)
		if err != nil {
			return MonitorResult{}, fmt.Errorf("services: monitor messages: %w", err)
		}
		return MonitorResult{View: view, Messages: msgs}, nil
	default:
		return MonitorResult{}, shared.NewInvariantViolation("unknown monitor view %q", view)
	}
}

func (s *Services) activeRows(ctx context.Context, repoID shared.RepoID) ([]MonitorActiveRow, error) {
	agents, err := s.ports.Agents.ListAgents(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("services: monitor active: %w", err)
	}
	var out []MonitorActiveRow
	for _, a := range agents {
		if a.Status == agent.StatusIdle {
			continue
		}
		out = append(out, MonitorActiveRow{AgentID: a.ID, BeadID: a.CurrentBead, Status: a.Status.String()})
	}
	return out, nil
}

func (s *Services) progressSnapshot(ctx context.Context, repoID shared.RepoID) (MonitorProgress, error) {
	agents, err := s.ports.Agents.ListAgents(ctx, repoID)
	if err != nil {
		return MonitorProgress{}, fmt.Errorf("services: progress: %w", err)
	}
	p := MonitorProgress{Total: len(agents)}
	for _, a := range agents {
		switch a.Status {
		case agent.StatusWorking:
			p.Working++
		case agent.StatusIdle:
			p.Idle++
		case agent.StatusWaiting:
			p.Waiting++
		case agent.StatusDone:
			p.Done++
		case agent.StatusError:
			p.Errors++
		}
	}
	backlog, err := s.ports.Backlog.CountByStatus(ctx, repoID)
	if err != nil {
		return MonitorProgress{}, fmt.Errorf("services: progress: backlog: %w", err)
	}
	p.Backlog = backlog
	return p, nil
}

func toFailureRows(rows []store.StageHistoryRow) []MonitorFailureRow {
	out := make([]MonitorFailureRow, 0, len(rows))
	for _, r := range rows {
		row := MonitorFailureRow{
			BeadID:   r.BeadID,
			AgentID:  r.AgentID,
			Stage:    r.Stage.String(),
			Attempt:  r.AttemptNumber,
			Feedback: r.Feedback,
		}
		if r.CompletedAt != nil {
			row.CompletedAt = r.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, row)
	}
	return out
}
