package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/swarm-orchestrator/internal/database"
	"github.com/jordanhubbard/swarm-orchestrator/internal/dbresolve"
	"github.com/jordanhubbard/swarm-orchestrator/internal/dispatcher"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/extproc"
	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
	"github.com/jordanhubbard/swarm-orchestrator/internal/services"
	"github.com/jordanhubbard/swarm-orchestrator/internal/skillprompts"
	"github.com/jordanhubbard/swarm-orchestrator/internal/store"
)

// registerHandlers wires one dispatcher.Handler per protocol command.
// "batch" is handled entirely inside the dispatcher and is never
// registered here.
func registerHandlers(d *dispatcher.Dispatcher, deps *Deps) {
	d.Register("?", deps.handleHelp)
	d.Register("help", deps.handleHelp)
	d.Register("doctor", deps.handleDoctor)
	d.Register("status", deps.handleStatus)
	d.Register("state", deps.handleState)
	d.Register("agents", deps.handleAgents)
	d.Register("history", deps.handleHistory)
	d.Register("next", deps.handleNext)
	d.Register("claim-next", deps.handleClaimNext)
	d.Register("assign", deps.handleAssign)
	d.Register("run-once", deps.handleRunOnce)
	d.Register("qa", deps.handleQA)
	d.Register("resume", deps.handleResume)
	d.Register("resume-context", deps.handleResumeContext)
	d.Register("artifacts", deps.handleArtifacts)
	d.Register("agent", deps.handleAgent)
	d.Register("register", deps.handleRegister)
	d.Register("release", deps.handleRelease)
	d.Register("monitor", deps.handleMonitor)
	d.Register("init", deps.handleInit)
	d.Register("init-db", deps.handleInitDB)
	d.Register("init-local-db", deps.handleInitLocalDB)
	d.Register("bootstrap", deps.handleBootstrap)
	d.Register("spawn-prompts", deps.handleSpawnPrompts)
	d.Register("prompt", deps.handlePrompt)
	d.Register("smoke", deps.handleSmoke)
	d.Register("lock", deps.handleLock)
	d.Register("unlock", deps.handleUnlock)
	d.Register("broadcast", deps.handleBroadcast)
	d.Register("load-profile", deps.handleLoadProfile)
}

// ---- argument helpers ----

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func argInt(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func argInt64(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func (d *Deps) repoIDFor(args map[string]any) shared.RepoID {
	if s, ok := argString(args, "repo_id"); ok && s != "" {
		return shared.RepoID(s)
	}
	return d.repoID
}

// success builds an ok:true envelope from payload. It returns a Go error
// only if payload cannot be marshaled (a programmer error, not a
// request-shaped one), which the dispatcher reports as INTERNAL.
func (d *Deps) success(req dispatcher.Request, payload any) (*protocol.Envelope, error) {
	env, err := protocol.Success(req.Rid, d.now(), payload)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return env, nil
}

func invalidEnvelope(req dispatcher.Request, now int64, msg, fix string) *protocol.Envelope {
	return protocol.NewError(req.Rid, now, protocol.CodeInvalid, msg).WithFix(fix)
}

// mapServiceError translates a shared.RuntimeError into the matching
// error envelope, reporting handled=true. Any other error is left for
// the caller to propagate as-is so the dispatcher's generic fallback
// maps it to INTERNAL.
func (d *Deps) mapServiceError(req dispatcher.Request, err error) (env *protocol.Envelope, handled bool) {
	var rte *shared.RuntimeError
	if !errors.As(err, &rte) {
		return nil, false
	}
	code := protocol.CodeInternal
	fix := "inspect the error context and retry"
	switch rte.Kind {
	case shared.ErrorKindInvariantViolation:
		code = protocol.CodeInvalid
		fix = "correct the request and retry"
	case shared.ErrorKindNotFound:
		code = protocol.CodeNotFound
		fix = "verify the identifier exists before retrying"
	case shared.ErrorKindConflict:
		code = protocol.CodeConflict
		fix = "re-check current state and retry"
	}
	return protocol.NewError(req.Rid, d.now(), code, rte.Msg).WithFix(fix), true
}

func dryRunEnvelope(req dispatcher.Request, now int64, steps []dispatcher.DryRunStep, estimatedMs int64) (*protocol.Envelope, error) {
	env, err := protocol.Success(req.Rid, now, dispatcher.NewDryRunPayload(steps, estimatedMs))
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ---- "?" / "help" ----

var commandDescriptions = map[string]string{
	"?":              "Alias for help",
	"help":           "List every supported command",
	"doctor":         "Check external tool availability and database connectivity",
	"status":         "Summarize swarm-wide progress",
	"state":          "List registered agents plus a progress snapshot",
	"agents":         "List every registered agent in full",
	"history":        "Read the command audit trail",
	"next":           "Preview the externally recommended next bead without claiming it",
	"claim-next":     "Claim the externally recommended next bead",
	"assign":         "Assign a specific bead to a specific agent",
	"run-once":       "Run one orchestrator tick for an agent and report progress",
	"qa":             "Run the built-in smoke-check suite",
	"resume":         "List every bead with resumable stage history",
	"resume-context": "Read one bead's full stage history and artifacts",
	"artifacts":      "List artifacts attached to a bead",
	"agent":          "Tick the orchestrator once for one agent",
	"register":       "Register fresh idle agents",
	"release":        "Release an agent's current claim",
	"monitor":        "Render one of the monitor views (active/progress/failures/events/messages)",
	"init":           "Bootstrap, init-db, and register the default agent pool in one step",
	"init-db":        "Connect to (and schema-initialize) a Postgres database",
	"init-local-db":  "Start a local Postgres container, then init-db against it",
	"bootstrap":      "Run the repository's init.sh bootstrap script",
	"spawn-prompts":  "Render numbered prompt files from a template",
	"prompt":         "Fetch a fixed skill prompt, or an agent's rendered prompt",
	"smoke":          "Run one end-to-end smoke cycle for an agent",
	"batch":          "Run multiple commands in one request",
	"lock":           "Acquire a resource lock",
	"unlock":         "Release a resource lock",
	"broadcast":      "Send a message to every other registered agent",
	"load-profile":   "Run a synthetic concurrency load profile against claim_next",
}

func (d *Deps) handleHelp(_ context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	short := false
	if s, ok := argString(args, "short"); ok && (s == "true" || s == "1") {
		short = true
	}
	if b, ok := args["short"].(bool); ok && b {
		short = true
	}
	if _, ok := args["s"]; ok {
		short = true
	}

	cmds := dispatcher.Commands()
	sort.Strings(cmds)

	if short {
		return d.success(req, map[string]any{"commands": cmds})
	}

	descriptions := make(map[string]string, len(cmds))
	for _, c := range cmds {
		descriptions[c] = commandDescriptions[c]
	}
	return d.success(req, map[string]any{"commands": descriptions})
}

// ---- doctor ----

var doctorTools = []string{"br", "bv", "moon", "jj", "git", "zjj"}

func (d *Deps) handleDoctor(ctx context.Context, req dispatcher.Request, _ map[string]any, _ bool) (*protocol.Envelope, error) {
	checks := make(map[string]bool, len(doctorTools)+1)
	var failures []string

	for _, tool := range doctorTools {
		res, err := d.runner.Run(ctx, fmt.Sprintf("command -v %s", extproc.ShellEscape(tool)))
		ok := err == nil && res.ExitCode == 0
		checks[tool] = ok
		if !ok {
			failures = append(failures, tool)
		}
	}

	dbOK := true
	if err := d.store.DB().PingContext(ctx); err != nil {
		dbOK = false
		failures = append(failures, "database")
	}
	checks["database"] = dbOK

	healthy := len(failures) == 0
	return d.success(req, map[string]any{
		"healthy":  healthy,
		"checks":   checks,
		"failures": failures,
	})
}

// ---- status / state / agents ----

func (d *Deps) handleStatus(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	result, err := d.svc.Monitor(ctx, d.repoIDFor(args), "", services.MonitorProgressV, 0)
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, map[string]any{"progress": result.Progress})
}

func (d *Deps) handleState(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	repoID := d.repoIDFor(args)
	limit, _ := argInt(args, "limit")
	if limit <= 0 || limit > services.MaxHistoryLimit {
		limit = services.DefaultHistoryLimit
	}

	agents, err := d.store.ListAgents(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if len(agents) > limit {
		agents = agents[:limit]
	}

	progress, err := d.svc.Monitor(ctx, repoID, "", services.MonitorProgressV, 0)
	if err != nil {
		return nil, err
	}

	return d.success(req, map[string]any{
		"agents":   agents,
		"progress": progress.Progress,
	})
}

func (d *Deps) handleAgents(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	agents, err := d.store.ListAgents(ctx, d.repoIDFor(args))
	if err != nil {
		return nil, err
	}
	return d.success(req, map[string]any{"agents": agents, "count": len(agents)})
}

// ---- history ----

func (d *Deps) handleHistory(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	limit := services.DefaultHistoryLimit
	if raw, ok := argInt(args, "limit"); ok {
		if raw < 0 {
			return invalidEnvelope(req, d.now(), "limit must not be negative", "Use a limit of 0 or greater"), nil
		}
		if raw == 0 {
			return d.success(req, map[string]any{"commands": []store.AuditRow{}, "count": 0})
		}
		limit = raw
	}

	rows, err := d.store.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return d.success(req, map[string]any{"commands": rows, "count": len(rows)})
}

// ---- next / claim-next ----

func (d *Deps) handleNext(ctx context.Context, req dispatcher.Request, _ map[string]any, dry bool) (*protocol.Envelope, error) {
	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "bv_robot_next", Target: "bv --robot-next"},
		}, 200)
	}
	result, err := d.svc.PeekNext(ctx)
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	env, err := d.success(req, result)
	if err != nil {
		return nil, err
	}
	return env.WithNext(fmt.Sprintf("br update %s --status in_progress", result.BeadID)), nil
}

func (d *Deps) handleClaimNext(ctx context.Context, req dispatcher.Request, _ map[string]any, dry bool) (*protocol.Envelope, error) {
	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "bv_robot_next", Target: "bv --robot-next"},
			{Step: 2, Action: "br_update", Target: "br update <bead-id> in_progress"},
		}, 400)
	}
	result, err := d.svc.ClaimNext(ctx)
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, result)
}

// ---- assign ----

func (d *Deps) handleAssign(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	beadID, ok := argString(args, "bead_id")
	if !ok || strings.TrimSpace(beadID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: bead_id", "Include bead_id in the request"), nil
	}
	agentID, ok := argString(args, "agent_id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: agent_id", "Include agent_id in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "load_agent", Target: agentID},
			{Step: 2, Action: "br_show", Target: beadID},
			{Step: 3, Action: "claim_bead", Target: beadID},
			{Step: 4, Action: "br_update_assignee", Target: beadID},
		}, 600)
	}

	result, err := d.svc.Assign(ctx, shared.BeadID(beadID), shared.AgentID(agentID))
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, result)
}

// ---- run-once / agent ----

func (d *Deps) handleRunOnce(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	agentID, ok := argString(args, "id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: id", "Include the agent id in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "doctor", Target: "agents"},
			{Step: 2, Action: "status", Target: "progress"},
			{Step: 3, Action: "claim_next", Target: "bv --robot-next"},
			{Step: 4, Action: "agent_tick", Target: agentID},
			{Step: 5, Action: "monitor_progress", Target: "progress"},
		}, 800)
	}

	result, err := d.svc.RunOnce(ctx, d.repoIDFor(args), shared.AgentID(agentID))
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, result)
}

func (d *Deps) handleAgent(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	agentID, ok := argString(args, "id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: id", "Include the agent id in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "tick", Target: agentID},
		}, 300)
	}

	outcome, err := d.engine.Tick(ctx, shared.AgentID(agentID))
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, map[string]any{"agent_id": agentID, "outcome": outcome.String()})
}

// ---- qa ----

func (d *Deps) handleQA(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	target, ok := argString(args, "target")
	if !ok || target == "" {
		target = "smoke"
	}
	if target != "smoke" {
		return invalidEnvelope(req, d.now(), fmt.Sprintf("unsupported qa target %q", target), "Use `swarm qa --target smoke`"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "doctor", Target: "tools"},
			{Step: 2, Action: "state", Target: "agents"},
			{Step: 3, Action: "status", Target: "progress"},
			{Step: 4, Action: "agent_dry", Target: "sample"},
			{Step: 5, Action: "monitor_progress", Target: "progress"},
			{Step: 6, Action: "monitor_failures", Target: "failures"},
		}, 1500)
	}

	repoID := d.repoIDFor(args)
	doctorEnv, err := d.handleDoctor(ctx, req, args, false)
	if err != nil {
		return nil, err
	}
	stateEnv, err := d.handleState(ctx, req, args, false)
	if err != nil {
		return nil, err
	}
	statusEnv, err := d.handleStatus(ctx, req, args, false)
	if err != nil {
		return nil, err
	}
	progress, err := d.svc.Monitor(ctx, repoID, "", services.MonitorProgressV, 0)
	if err != nil {
		return nil, err
	}
	failures, err := d.svc.Monitor(ctx, repoID, "", services.MonitorFailures, 0)
	if err != nil {
		return nil, err
	}

	return d.success(req, map[string]any{
		"target": target,
		"checks": map[string]any{
			"doctor":   doctorEnv.D,
			"state":    stateEnv.D,
			"status":   statusEnv.D,
			"progress": progress.Progress,
			"failures": failures.Failures,
		},
	})
}

// ---- resume / resume-context ----

func (d *Deps) handleResume(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	repoID := d.repoIDFor(args)
	failures, err := d.svc.Monitor(ctx, repoID, "", services.MonitorFailures, services.MaxHistoryLimit)
	if err != nil {
		return nil, err
	}

	seen := map[shared.BeadID]bool{}
	var contexts []services.ResumePayload
	for _, f := range failures.Failures {
		if seen[f.BeadID] {
			continue
		}
		seen[f.BeadID] = true
		payload, err := d.svc.Resume(ctx, f.BeadID)
		if err != nil {
			continue
		}
		contexts = append(contexts, payload)
	}
	if contexts == nil {
		contexts = []services.ResumePayload{}
	}

	env, err := d.success(req, map[string]any{"contexts": contexts})
	if err != nil {
		return nil, err
	}
	return env.WithNext("swarm monitor --view failures"), nil
}

func (d *Deps) handleResumeContext(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	beadID, ok := argString(args, "bead_id")
	if !ok || strings.TrimSpace(beadID) == "" {
		return invalidEnvelope(req, d.now(), "bead_id cannot be empty", "Use --bead-id <bead-id> with a non-empty value"), nil
	}

	payload, err := d.svc.ResumeContext(ctx, shared.BeadID(beadID))
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}

	env, err := d.success(req, map[string]any{"contexts": []services.ResumePayload{payload}})
	if err != nil {
		return nil, err
	}
	return env.WithNext("swarm monitor --view failures"), nil
}

// ---- artifacts ----

func (d *Deps) handleArtifacts(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	beadID, ok := argString(args, "bead_id")
	if !ok || strings.TrimSpace(beadID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: bead_id", "Include bead_id in the request"), nil
	}
	if len(beadID) > 255 {
		return invalidEnvelope(req, d.now(), "bead_id exceeds maximum length of 255 characters", "Provide a bead_id with 255 or fewer characters"), nil
	}

	var artifactType *store.ArtifactType
	if raw, ok := argString(args, "artifact_type"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := store.ParseArtifactType(strings.TrimSpace(raw))
		if err != nil {
			if env, handled := d.mapServiceError(req, err); handled {
				return env, nil
			}
			return nil, err
		}
		artifactType = &parsed
	}

	artifacts, err := d.svc.Artifacts(ctx, shared.BeadID(beadID), artifactType, services.MaxHistoryLimit)
	if err != nil {
		return nil, err
	}

	env, err := d.success(req, map[string]any{
		"bead_id":        beadID,
		"artifact_count": len(artifacts),
		"artifacts":      artifacts,
	})
	if err != nil {
		return nil, err
	}
	return env.WithNext("swarm monitor --view progress"), nil
}

// ---- register / release ----

func (d *Deps) handleRegister(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	count, ok := argInt(args, "count")
	if !ok || count <= 0 {
		count = 12
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "register_agents", Target: fmt.Sprintf("count=%d", count)},
		}, 200)
	}

	ids, err := d.store.Register(ctx, d.repoIDFor(args), count)
	if err != nil {
		return nil, err
	}
	return d.success(req, map[string]any{"agent_ids": ids, "count": len(ids)})
}

func (d *Deps) handleRelease(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	agentID, ok := argString(args, "agent_id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: agent_id", "Include agent_id in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "release_claim", Target: agentID},
		}, 150)
	}

	if err := d.store.Release(ctx, shared.AgentID(agentID)); err != nil {
		return nil, err
	}
	return d.success(req, map[string]any{"agent_id": agentID, "released": true})
}

// ---- monitor ----

func (d *Deps) handleMonitor(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	view, ok := argString(args, "view")
	if !ok || view == "" {
		view = string(services.MonitorProgressV)
	}

	limit := 0
	if ms, ok := argInt(args, "watch_ms"); ok && ms > 0 {
		limit = services.DefaultHistoryLimit
	}

	var agentID shared.AgentID
	if s, ok := argString(args, "id"); ok {
		agentID = shared.AgentID(s)
	}

	result, err := d.svc.Monitor(ctx, d.repoIDFor(args), agentID, services.MonitorView(view), limit)
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}

	payload := map[string]any{"view": result.View}
	switch services.MonitorView(view) {
	case services.MonitorActive:
		payload["rows"] = result.Active
	case services.MonitorProgressV:
		payload["progress"] = result.Progress
	case services.MonitorFailures:
		payload["failures"] = result.Failures
	case services.MonitorEvents:
		payload["events"] = result.Events
	case services.MonitorMessages:
		payload["messages"] = result.Messages
	}
	return d.success(req, payload)
}

// ---- init / init-db / init-local-db / bootstrap ----

func (d *Deps) handleInitDB(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	explicit, _ := argString(args, "url")
	candidates := dbresolve.ComposeCandidates(explicit, dbresolve.DiscoveryChain())
	if len(candidates) == 0 {
		return invalidEnvelope(req, d.now(), "no database url provided or discoverable", "Pass --url or set DATABASE_URL"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "connect", Target: dbresolve.Mask(candidates[0])},
			{Step: 2, Action: "init_schema", Target: "swarm_config, agent_state, bead_backlog, ..."},
		}, 2000)
	}

	conn, err := database.NewPostgres(candidates[0])
	if err != nil {
		return nil, fmt.Errorf("init-db: %w", err)
	}
	defer conn.Close()

	seedAgents, _ := argInt(args, "seed_agents")
	var agentIDs []shared.AgentID
	if seedAgents > 0 {
		agentIDs, err = conn.Register(ctx, d.repoIDFor(args), seedAgents)
		if err != nil {
			return nil, fmt.Errorf("init-db: seed agents: %w", err)
		}
	}

	return d.success(req, map[string]any{
		"connected":  true,
		"url":        dbresolve.Mask(candidates[0]),
		"agent_ids":  agentIDs,
	})
}

func (d *Deps) handleInitLocalDB(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	containerName, _ := argString(args, "container_name")
	if containerName == "" {
		containerName = "swarm-postgres"
	}
	port, ok := argInt(args, "port")
	if !ok || port <= 0 {
		port = 5432
	}
	user, _ := argString(args, "user")
	if user == "" {
		user = "swarm"
	}
	dbName, _ := argString(args, "database")
	if dbName == "" {
		dbName = "swarm"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, user, port, dbName)

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "docker_run_postgres", Target: containerName},
			{Step: 2, Action: "connect", Target: dbresolve.Mask(dsn)},
			{Step: 3, Action: "init_schema", Target: "swarm_config, agent_state, bead_backlog, ..."},
		}, 5000)
	}

	runCmd := fmt.Sprintf(
		"docker run -d --name %s -e POSTGRES_USER=%s -e POSTGRES_PASSWORD=%s -e POSTGRES_DB=%s -p %d:5432 postgres:16-alpine",
		extproc.ShellEscape(containerName), extproc.ShellEscape(user), extproc.ShellEscape(user), extproc.ShellEscape(dbName), port,
	)
	if _, err := d.runner.Run(ctx, runCmd); err != nil {
		return nil, fmt.Errorf("init-local-db: docker run: %w", err)
	}

	args["url"] = dsn
	return d.handleInitDB(ctx, req, args, false)
}

func (d *Deps) handleBootstrap(ctx context.Context, req dispatcher.Request, _ map[string]any, dry bool) (*protocol.Envelope, error) {
	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "run_init_script", Target: "./init.sh"},
		}, 3000)
	}

	res, err := d.runner.Run(ctx, "./init.sh")
	ran := err == nil && res.ExitCode == 0
	return d.success(req, map[string]any{"ran": ran, "exit_code": res.ExitCode})
}

func (d *Deps) handleInit(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "bootstrap", Target: "./init.sh"},
			{Step: 2, Action: "init_db", Target: "database_url"},
			{Step: 3, Action: "register", Target: "count=12"},
		}, 6000)
	}

	bootstrapEnv, err := d.handleBootstrap(ctx, req, nil, false)
	if err != nil {
		return nil, err
	}

	dbArgs := map[string]any{}
	if url, ok := argString(args, "database_url"); ok {
		dbArgs["url"] = url
	}
	dbEnv, err := d.handleInitDB(ctx, req, dbArgs, false)
	if err != nil {
		return nil, err
	}
	if !dbEnv.OK {
		return dbEnv, nil
	}

	seedAgents, _ := argInt(args, "seed_agents")
	if seedAgents <= 0 {
		seedAgents = 12
	}
	registerEnv, err := d.handleRegister(ctx, req, map[string]any{"count": float64(seedAgents)}, false)
	if err != nil {
		return nil, err
	}

	return d.success(req, map[string]any{
		"bootstrap": bootstrapEnv.D,
		"init_db":   dbEnv.D,
		"register":  registerEnv.D,
	})
}

// ---- spawn-prompts / prompt / smoke ----

const defaultPromptTemplate = "# Agent prompt {N}\n\nYou are swarm agent {N}. Claim work with `swarm claim-next` and follow the stage skill prompts.\n"

func (d *Deps) handleSpawnPrompts(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	templatePath, _ := argString(args, "template")
	outDir, _ := argString(args, "out_dir")
	if outDir == "" {
		outDir = ".agents/generated"
	}
	count, ok := argInt(args, "count")
	if !ok || count <= 0 {
		count = 12
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "read_template", Target: templatePath},
			{Step: 2, Action: "write_prompts", Target: outDir},
		}, 500)
	}

	template := defaultPromptTemplate
	if templatePath != "" {
		raw, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("spawn-prompts: read template: %w", err)
		}
		template = string(raw)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("spawn-prompts: mkdir %s: %w", outDir, err)
	}

	written := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		rendered := strings.ReplaceAll(template, "{N}", fmt.Sprintf("%d", i))
		path := fmt.Sprintf("%s/prompt-%03d.md", outDir, i)
		if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
			return nil, fmt.Errorf("spawn-prompts: write %s: %w", path, err)
		}
		written = append(written, path)
	}

	return d.success(req, map[string]any{"out_dir": outDir, "count": len(written), "files": written})
}

func (d *Deps) handlePrompt(ctx context.Context, req dispatcher.Request, args map[string]any, _ bool) (*protocol.Envelope, error) {
	if skill, ok := argString(args, "skill"); ok && skill != "" {
		text, found := skillprompts.Get(skill)
		if !found {
			return protocol.NewError(req.Rid, d.now(), protocol.CodeNotFound, fmt.Sprintf("unrecognized skill %q", skill)).
				WithFix("Use one of: rust-contract, implement, qa-enforcer, red-queen"), nil
		}
		return d.success(req, map[string]any{"skill": skill, "prompt": text})
	}

	agentID, ok := argString(args, "id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: id or skill", "Include id (agent) or skill in the request"), nil
	}

	st, found, err := d.store.LoadAgent(ctx, shared.AgentID(agentID))
	if err != nil {
		return nil, err
	}
	if !found {
		return protocol.NewError(req.Rid, d.now(), protocol.CodeNotFound, fmt.Sprintf("agent %s is not registered", agentID)).
			WithFix("register an agent before requesting its prompt"), nil
	}

	text, _ := skillprompts.Get(st.CurrentStage.String())
	return d.success(req, map[string]any{"agent_id": agentID, "stage": st.CurrentStage.String(), "prompt": text})
}

func (d *Deps) handleSmoke(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	agentID, ok := argString(args, "id")
	if !ok || strings.TrimSpace(agentID) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: id", "Include the agent id in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "run_smoke", Target: agentID},
		}, 1000)
	}

	if _, err := d.svc.RunOnce(ctx, d.repoIDFor(args), shared.AgentID(agentID)); err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}

	return d.success(req, map[string]any{"agent_id": agentID, "status": "completed"})
}

// ---- lock / unlock ----

func (d *Deps) handleLock(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	resource, ok := argString(args, "resource")
	if !ok || strings.TrimSpace(resource) == "" {
		return invalidEnvelope(req, d.now(), "resource cannot be empty", "Provide a non-empty resource"), nil
	}
	agentArg, ok := argString(args, "agent")
	if !ok || strings.TrimSpace(agentArg) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: agent", "Include agent in the request"), nil
	}
	ttlMs, ok := argInt64(args, "ttl_ms")
	if !ok || ttlMs <= 0 {
		return invalidEnvelope(req, d.now(), "Missing or invalid ttl_ms", "swarm lock --resource <id> --agent <id> --ttl-ms 30000"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "cleanup_expired_locks", Target: resource},
			{Step: 2, Action: "acquire_lock", Target: resource},
		}, 150)
	}

	result, acquired, err := d.svc.Lock(ctx, resource, shared.AgentID(agentArg), time.Duration(ttlMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return protocol.NewError(req.Rid, d.now(), protocol.CodeBusy, "Resource lock already held").
			WithFix("sleep 1; swarm lock --resource <id> --agent <id> --ttl-ms 30000"), nil
	}

	env, err := d.success(req, map[string]any{"locked": true, "until": result.UntilAt})
	if err != nil {
		return nil, err
	}
	return env.WithNext(fmt.Sprintf("swarm unlock --resource %s --agent %s", resource, agentArg)), nil
}

func (d *Deps) handleUnlock(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	resource, ok := argString(args, "resource")
	if !ok || strings.TrimSpace(resource) == "" {
		return invalidEnvelope(req, d.now(), "resource cannot be empty", "Provide a non-empty resource"), nil
	}
	agentArg, ok := argString(args, "agent")
	if !ok || strings.TrimSpace(agentArg) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: agent", "Include agent in the request"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "unlock", Target: resource},
		}, 100)
	}

	released, err := d.svc.Unlock(ctx, resource, shared.AgentID(agentArg))
	if err != nil {
		return nil, err
	}
	if !released {
		return protocol.NewError(req.Rid, d.now(), protocol.CodeConflict, "Resource lock not owned by agent or missing").
			WithFix("swarm agents"), nil
	}
	env, err := d.success(req, map[string]any{"unlocked": true})
	if err != nil {
		return nil, err
	}
	return env.WithNext("swarm agents"), nil
}

// ---- broadcast ----

func (d *Deps) handleBroadcast(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	msg, ok := argString(args, "msg")
	if !ok || strings.TrimSpace(msg) == "" {
		return invalidEnvelope(req, d.now(), "Missing required field: msg", "Include msg in the request"), nil
	}
	from, _ := argString(args, "from")

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "broadcast", Target: from},
		}, 150)
	}

	result, err := d.svc.Broadcast(ctx, d.repoIDFor(args), shared.AgentID(from), msg)
	if err != nil {
		return nil, err
	}
	return d.success(req, result)
}

// ---- load-profile ----

func (d *Deps) handleLoadProfile(ctx context.Context, req dispatcher.Request, args map[string]any, dry bool) (*protocol.Envelope, error) {
	agents, _ := argInt(args, "agents")
	rounds, _ := argInt(args, "rounds")
	timeoutMs, ok := argInt64(args, "timeout_ms")
	if !ok || timeoutMs <= 0 {
		timeoutMs = int64(services.DefaultLeaseExtension / time.Millisecond)
	}

	if agents <= 0 || rounds <= 0 {
		return invalidEnvelope(req, d.now(), "load-profile requires agents>0 and rounds>0", "Provide positive agents and rounds"), nil
	}

	if dry {
		return dryRunEnvelope(req, d.now(), []dispatcher.DryRunStep{
			{Step: 1, Action: "seed_agents", Target: fmt.Sprintf("agents=%d", agents)},
			{Step: 2, Action: "enqueue_synthetic_beads", Target: fmt.Sprintf("agents*rounds=%d", agents*rounds)},
			{Step: 3, Action: "run_rounds", Target: fmt.Sprintf("rounds=%d", rounds)},
		}, int64(agents*rounds*10))
	}

	result, err := d.svc.LoadProfile(ctx, d.repoIDFor(args), agents, rounds, timeoutMs)
	if err != nil {
		if env, handled := d.mapServiceError(req, err); handled {
			return env, nil
		}
		return nil, err
	}
	return d.success(req, result)
}
