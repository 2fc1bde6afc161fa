// Command swarmd is the daemon entry point: it loads configuration,
// opens the Postgres connection pool, wires the orchestrator and
// application services together, and runs the line-delimited JSON
// protocol loop over stdin/stdout until stdin closes.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jordanhubbard/swarm-orchestrator/internal/config"
	"github.com/jordanhubbard/swarm-orchestrator/internal/daemon"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/ioloop"

	"flag"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "swarm.yaml", "Path to configuration file")
	repoIDFlag := flag.String("repo-id", "default", "repo_id this daemon instance serves by default")
	flag.Parse()

	cfg := loadConfig(*configPath)

	if env := os.Getenv("SWARM_REPO_ID"); env != "" {
		*repoIDFlag = env
	}

	if cfg.Database.DSN != "" && os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", cfg.Database.DSN)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, deps, err := daemon.Build(ctx, cfg, shared.RepoID(*repoIDFlag))
	if err != nil {
		log.Fatalf("failed to wire swarmd: %v", err)
	}
	defer deps.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[swarmd] shutdown signal received, cancelling in-flight work")
		cancel()
	}()

	loop := ioloop.New(d, deps.Store(), os.Stdin, os.Stdout, daemon.NowMillis)
	os.Exit(loop.Run(ctx))
}

// loadConfig loads path if it exists, falling back to built-in defaults
// for an operator running swarmd with no config file at all (e.g. under
// SWARM_E2E with everything driven by environment variables).
func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); err != nil {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", path, err)
	}
	return cfg
}
