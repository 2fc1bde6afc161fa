// Package daemon wires a database connection, the orchestrator engine,
// the application services facade, and the full dispatcher command table
// into one reusable unit. cmd/swarmd uses it to drive the stdin/stdout
// protocol loop; cmd/swarmctl uses the same Build to dispatch a single
// command in-process, the way the original swarm binary called straight
// into its own command implementations rather than going over a network
// transport.
package daemon

import (
	"context"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/config"
	"github.com/jordanhubbard/swarm-orchestrator/internal/database"
	"github.com/jordanhubbard/swarm-orchestrator/internal/dispatcher"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
	"github.com/jordanhubbard/swarm-orchestrator/internal/orchestrator"
	"github.com/jordanhubbard/swarm-orchestrator/internal/services"
)

// Deps bundles everything a command handler needs that isn't already
// captured by the dispatcher.Request itself.
type Deps struct {
	svc    *services.Services
	store  *database.Store
	runner *extproc.Runner
	cfg    *config.Config
	engine *orchestrator.Engine
	repoID shared.RepoID
	now    func() int64
}

// NowMillis is the wall-clock time source every envelope and audit row
// is stamped with.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Build opens the database connection named by the environment (or
// cfg.Database.DSN, exported to DATABASE_URL first if set), constructs
// the orchestrator engine and services facade over it, and returns a
// Dispatcher with every protocol command registered. Callers must call
// Close on the returned Deps once done with it.
func Build(ctx context.Context, cfg *config.Config, repoID shared.RepoID) (*dispatcher.Dispatcher, *Deps, error) {
	store, err := database.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	store.ApplyPoolConfig(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)

	runner := &extproc.Runner{Timeout: extproc.DefaultTimeout}
	workspace := &orchestrator.ZjjWorkspace{Runner: runner}

	engine := orchestrator.New(orchestrator.Ports{
		Claims:    store,
		Agents:    store,
		History:   store,
		Artifacts: store,
		Events:    store,
		Workspace: workspace,
	}, orchestrator.NewStageExecutor(runner, cfg, cfg.Agents.MaxImplementationAttempts, nil), nil)

	svc := services.New(services.Ports{
		Claims:    store,
		Backlog:   store,
		Agents:    store,
		History:   store,
		Artifacts: store,
		Events:    store,
		Locks:     store,
		Messages:  store,
		Runner:    runner,
	}, engine)

	deps := &Deps{
		svc:    svc,
		store:  store,
		runner: runner,
		cfg:    cfg,
		engine: engine,
		repoID: repoID,
		now:    NowMillis,
	}

	d := dispatcher.New(NowMillis)
	registerHandlers(d, deps)

	return d, deps, nil
}

// Store returns the underlying database handle, for callers (the
// protocol loop's audit trail, the CLI's process-exit cleanup) that need
// it directly rather than through a registered command.
func (d *Deps) Store() *database.Store {
	return d.store
}

// Close releases the database connection pool.
func (d *Deps) Close() error {
	return d.store.Close()
}
