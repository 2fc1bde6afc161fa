package services

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
)

// BroadcastResult is the payload of a successful broadcast call.
type BroadcastResult struct {
	DeliveredTo int `json:"delivered_to"`
}

// Broadcast persists msg as a message row addressed to every other
// registered agent in repoID.
func (s *Services) Broadcast(ctx context.Context, repoID shared.RepoID, from shared.AgentID, msg string) (BroadcastResult, error) {
	count, err := s.ports.Messages.Broadcast(ctx, repoID, from, msg)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("services: broadcast: %w", err)
	}
	return BroadcastResult{DeliveredTo: count}, nil
}
