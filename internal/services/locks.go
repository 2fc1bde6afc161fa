package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
)

// LockResult is the payload of a successful lock acquisition.
type LockResult struct {
	Resource string    `json:"resource"`
	Agent    string    `json:"agent"`
	UntilAt  time.Time `json:"until_at"`
}

// Lock attempts to acquire resource for agentID for ttl. A held,
// unexpired lock owned by someone else maps to BUSY at the dispatcher
// layer (the bool return is false, not an error).
func (s *Services) Lock(ctx context.Context, resource string, agentID shared.AgentID, ttl time.Duration) (LockResult, bool, error) {
	until, ok, err := s.ports.Locks.Acquire(ctx, resource, agentID, ttl)
	if err != nil {
		return LockResult{}, false, fmt.Errorf("services: lock: %w", err)
	}
	if !ok {
		return LockResult{}, false, nil
	}
	return LockResult{Resource: resource, Agent: string(agentID), UntilAt: until}, true, nil
}

// Unlock releases resource, reporting false (not an error) if agentID
// does not currently hold it.
func (s *Services) Unlock(ctx context.Context, resource string, agentID shared.AgentID) (bool, error) {
	released, err := s.ports.Locks.Unlock(ctx, resource, agentID)
	if err != nil {
		return false, fmt.Errorf("services: unlock: %w", err)
	}
	return released, nil
}
