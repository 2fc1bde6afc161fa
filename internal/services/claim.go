package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/agent"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
)

// ClaimNextResult is the payload of a successful claim_next call.
type ClaimNextResult struct {
	BeadID shared.BeadID `json:"bead_id"`
}

// ClaimNext consults the external recommender (bv --robot-next) rather
// than the store's priority queue directly, then marks the recommended
// bead in_progress via br. It is the operator-facing "what should I work
// on" entry point; the orchestrator tick's own claim_next (store-driven)
// is what actually assigns beads to registered agents.
func (s *Services) ClaimNext(ctx context.Context) (ClaimNextResult, error) {
	raw, _, err := s.ports.Runner.RunJSON(ctx, "bv", []string{"--robot-next"})
	if err != nil {
		return ClaimNextResult{}, fmt.Errorf("services: claim next: bv: %w", err)
	}

	beadID, ok := projectRecommendedBead(raw)
	if !ok {
		return ClaimNextResult{}, shared.NewInvariantViolation("bv --robot-next returned no usable bead id")
	}

	if _, _, err := s.ports.Runner.RunJSON(ctx, "br", []string{"update", beadID, "in_progress"}); err != nil {
		return ClaimNextResult{}, fmt.Errorf("services: claim next: br update: %w", err)
	}

	return ClaimNextResult{BeadID: shared.BeadID(beadID)}, nil
}

// PeekNext previews the externally recommended next bead without
// marking it in_progress — the read-only counterpart to ClaimNext,
// backing the "next" protocol command.
func (s *Services) PeekNext(ctx context.Context) (ClaimNextResult, error) {
	raw, _, err := s.ports.Runner.RunJSON(ctx, "bv", []string{"--robot-next"})
	if err != nil {
		return ClaimNextResult{}, fmt.Errorf("services: next: bv: %w", err)
	}

	beadID, ok := projectRecommendedBead(raw)
	if !ok {
		return ClaimNextResult{}, shared.NewInvariantViolation("bv --robot-next returned no usable bead id")
	}

	return ClaimNextResult{BeadID: shared.BeadID(beadID)}, nil
}

// projectRecommendedBead extracts a bead id from bv's response, trying
// each documented shape in order: {id}, {next}, {recommendation}, or
// {triage: {quick_ref: {top_picks: [...]}}}.
func projectRecommendedBead(raw json.RawMessage) (string, bool) {
	var direct struct {
		ID             string `json:"id"`
		Next           string `json:"next"`
		Recommendation string `json:"recommendation"`
	}
	if err := json.Unmarshal(raw, &direct); err == nil {
		for _, candidate := range []string{direct.ID, direct.Next, direct.Recommendation} {
			if candidate != "" {
				return candidate, true
			}
		}
	}

	var nested struct {
		Triage struct {
			QuickRef struct {
				TopPicks []string `json:"top_picks"`
			} `json:"quick_ref"`
		} `json:"triage"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested.Triage.QuickRef.TopPicks) > 0 {
		return nested.Triage.QuickRef.TopPicks[0], true
	}

	return "", false
}

// AssignResult is the payload of a successful assign call.
type AssignResult struct {
	BeadID  shared.BeadID  `json:"bead_id"`
	AgentID shared.AgentID `json:"agent_id"`
}

// Assign claims a specific bead for a specific agent under a
// compensating-action contract: if the external br update fails after
// the store claim succeeded, the claim is rolled back and the failure
// is reported as CONFLICT with a "rolled back" phrase.
func (s *Services) Assign(ctx context.Context, beadID shared.BeadID, agentID shared.AgentID) (AssignResult, error) {
	st, found, err := s.ports.Agents.LoadAgent(ctx, agentID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("services: assign: load agent: %w", err)
	}
	if !found {
		return AssignResult{}, shared.NewNotFound("agent %s is not registered", agentID)
	}
	if st.Status != agent.StatusIdle {
		return AssignResult{}, shared.NewConflict("agent %s is not idle", agentID)
	}

	raw, _, err := s.ports.Runner.RunJSON(ctx, "br", []string{"show", string(beadID)})
	if err != nil {
		return AssignResult{}, fmt.Errorf("services: assign: br show: %w", err)
	}
	var bead struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &bead); err != nil {
		return AssignResult{}, fmt.Errorf("services: assign: parse br show output: %w", err)
	}
	if bead.Status != "open" {
		return AssignResult{}, shared.NewConflict("bead %s is not open (status=%s)", beadID, bead.Status)
	}

	claimed, err := s.ports.Claims.ClaimBead(ctx, agentID, beadID, DefaultLeaseExtension)
	if err != nil {
		return AssignResult{}, fmt.Errorf("services: assign: claim bead: %w", err)
	}
	if !claimed {
		return AssignResult{}, shared.NewConflict("bead %s was claimed by another agent", beadID)
	}

	assignee := fmt.Sprintf("swarm-agent-%s", agentID)
	if _, _, err := s.ports.Runner.RunJSON(ctx, "br", []string{"update", string(beadID), "in_progress", "--assignee", assignee}); err != nil {
		if releaseErr := s.ports.Claims.Release(ctx, agentID); releaseErr != nil {
			return AssignResult{}, fmt.Errorf("services: assign: br update failed (%v) and rollback failed: %w", err, releaseErr)
		}
		return AssignResult{}, shared.NewConflict("rolled back for bead %s: br update failed: %v", beadID, err)
	}

	return AssignResult{BeadID: beadID, AgentID: agentID}, nil
}
