package services

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// ResumePayload projects a bead's persisted history and artifacts into a
// single typed view, letting an operator reconstruct what happened
// without re-running any stage.
type ResumePayload struct {
	BeadID    shared.BeadID            `json:"bead_id"`
	History   []store.StageHistoryRow `json:"history"`
	Artifacts []store.Artifact        `json:"artifacts"`
}

// Resume returns the full stage history and artifact trail for beadID.
func (s *Services) Resume(ctx context.Context, beadID shared.BeadID) (ResumePayload, error) {
	return s.resumePayload(ctx, beadID)
}

// ResumeContext is Resume scoped to a single bead, returning NOTFOUND
// when no history exists for it.
func (s *Services) ResumeContext(ctx context.Context, beadID shared.BeadID) (ResumePayload, error) {
	payload, err := s.resumePayload(ctx, beadID)
	if err != nil {
		return ResumePayload{}, err
	}
	if len(payload.History) == 0 {
		return ResumePayload{}, shared.NewNotFound("no history for bead %s", beadID)
	}
	return payload, nil
}

func (s *Services) resumePayload(ctx context.Context, beadID shared.BeadID) (ResumePayload, error) {
	history, err := s.ports.History.History(ctx, beadID, MaxHistoryLimit)
	if err != nil {
		return ResumePayload{}, fmt.Errorf("services: resume: history: %w", err)
	}
	artifacts, err := s.ports.Artifacts.ListArtifacts(ctx, beadID, nil, MaxHistoryLimit)
	if err != nil {
		return ResumePayload{}, fmt.Errorf("services: resume: artifacts: %w", err)
	}
	return ResumePayload{BeadID: beadID, History: history, Artifacts: artifacts}, nil
}

// Artifacts lists artifacts attached to beadID, optionally filtered to
// one artifact type. An empty result is a valid success, not NOTFOUND.
func (s *Services) Artifacts(ctx context.Context, beadID shared.BeadID, artifactType *store.ArtifactType, limit int) ([]store.Artifact, error) {
	artifacts, err := s.ports.Artifacts.ListArtifacts(ctx, beadID, artifactType, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("services: artifacts: %w", err)
	}
	return artifacts, nil
}
