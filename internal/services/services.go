// Package services implements the application layer: thin orchestration
// over the store and external-process ports, in the style of
// internal/dispatcher/dispatcher.go's small focused methods over a
// shared struct.
package services

import (
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
	"github.com/jordanhubbard/swarm-orchestrator/internal/orchestrator"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// DefaultLeaseExtension mirrors orchestrator.DefaultLeaseExtension; the
// claim/assign paths here hold agents to the same lease the tick loop
// uses once work is underway.
const DefaultLeaseExtension = orchestrator.DefaultLeaseExtension

// MaxHistoryLimit bounds every list-ish query's limit argument.
const MaxHistoryLimit = 500

// DefaultHistoryLimit is applied when a caller omits limit.
const DefaultHistoryLimit = 100

// Ports bundles every repository and external-process port the
// application services depend on.
type Ports struct {
	Claims    store.ClaimStore
	Backlog   store.BacklogStore
	Agents    store.AgentStore
	History   store.StageHistoryStore
	Artifacts store.ArtifactStoreP
	Events    store.EventSink
	Locks     store.LockStore
	Messages  store.MessageStore
	Runner    *extproc.Runner
	Now       func() time.Time
}

// Services is the application-service facade the protocol dispatcher's
// handlers call into.
type Services struct {
	ports  Ports
	engine *orchestrator.Engine
}

// New builds a Services over ports, driving orchestrator ticks through
// engine in RunOnce.
func New(ports Ports, engine *orchestrator.Engine) *Services {
	if ports.Now == nil {
		ports.Now = time.Now
	}
	return &Services{ports: ports, engine: engine}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
