package main

import "github.com/spf13/cobra"

func newHelpCommand() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:     "help",
		Aliases: []string{"?"},
		Short:   "List every supported command",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if short {
				args["short"] = true
			}
			runAndExit("help", args)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the command names, without descriptions")
	return cmd
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tool availability and database connectivity",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("doctor", nil)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize swarm-wide progress",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("status", nil)
		},
	}
}

func newStateCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "state",
		Short: "List registered agents plus a progress snapshot",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if limit > 0 {
				args["limit"] = limit
			}
			runAndExit("state", args)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of agents to list (default server-side limit)")
	return cmd
}

func newAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List every registered agent in full",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("agents", nil)
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read the command audit trail",
		Run: func(_ *cobra.Command, _ []string) {
			// --limit=0 is meaningful (an empty result), so it is always
			// forwarded rather than treated as "unset".
			runAndExit("history", map[string]any{"limit": limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Number of audit rows to return (0 for none)")
	return cmd
}

func newNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Preview the externally recommended next bead without claiming it",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("next", nil)
		},
	}
}

func newClaimNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim-next",
		Short: "Claim the externally recommended next bead",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("claim-next", nil)
		},
	}
}

func newAssignCommand() *cobra.Command {
	var beadID, agentID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a specific bead to a specific agent",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("assign", map[string]any{"bead_id": beadID, "agent_id": agentID})
		},
	}
	cmd.Flags().StringVar(&beadID, "bead-id", "", "Bead to assign (required)")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent to assign it to (required)")
	cmd.MarkFlagRequired("bead-id")
	cmd.MarkFlagRequired("agent-id")
	return cmd
}

func newRunOnceCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Run one orchestrator tick for an agent and report progress",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("run-once", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newQACommand() *cobra.Command {
	var target, id string
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Run the built-in smoke-check suite",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if target != "" {
				args["target"] = target
			}
			if id != "" {
				args["id"] = id
			}
			runAndExit("qa", args)
		},
	}
	cmd.Flags().StringVar(&target, "target", "smoke", "QA target to run")
	cmd.Flags().StringVar(&id, "id", "", "Agent id for targets that need one")
	return cmd
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "List every bead with resumable stage history",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("resume", nil)
		},
	}
}

func newResumeContextCommand() *cobra.Command {
	var beadID string
	cmd := &cobra.Command{
		Use:   "resume-context",
		Short: "Read one bead's full stage history and artifacts",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("resume-context", map[string]any{"bead_id": beadID})
		},
	}
	cmd.Flags().StringVar(&beadID, "bead-id", "", "Bead id (required)")
	cmd.MarkFlagRequired("bead-id")
	return cmd
}

func newArtifactsCommand() *cobra.Command {
	var beadID, artifactType string
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List artifacts attached to a bead",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{"bead_id": beadID}
			if artifactType != "" {
				args["artifact_type"] = artifactType
			}
			runAndExit("artifacts", args)
		},
	}
	cmd.Flags().StringVar(&beadID, "bead-id", "", "Bead id (required)")
	cmd.Flags().StringVar(&artifactType, "artifact-type", "", "Filter to one artifact type")
	cmd.MarkFlagRequired("bead-id")
	return cmd
}

func newAgentCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Tick the orchestrator once for one agent",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("agent", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register fresh idle agents",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if count > 0 {
				args["count"] = count
			}
			runAndExit("register", args)
		},
	}
	cmd.Flags().IntVar(&count, "count", 12, "Number of agents to register")
	return cmd
}

func newReleaseCommand() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release an agent's current claim",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("release", map[string]any{"agent_id": agentID})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent id (required)")
	cmd.MarkFlagRequired("agent-id")
	return cmd
}

func newMonitorCommand() *cobra.Command {
	var view string
	var watchMs int
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Render one of the monitor views (active/progress/failures/events/messages)",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{"view": view}
			if watchMs > 0 {
				args["watch_ms"] = watchMs
			}
			runAndExit("monitor", args)
		},
	}
	cmd.Flags().StringVar(&view, "view", "progress", "View to render (active, progress, failures, events, messages)")
	cmd.Flags().IntVar(&watchMs, "watch-ms", 0, "Non-zero requests the fuller history-backed view")
	return cmd
}

func newInitCommand() *cobra.Command {
	var databaseURL, schema string
	var seedAgents int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap, init-db, and register the default agent pool in one step",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if databaseURL != "" {
				args["database_url"] = databaseURL
			}
			if schema != "" {
				args["schema"] = schema
			}
			if seedAgents > 0 {
				args["seed_agents"] = seedAgents
			}
			runAndExit("init", args)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Database URL override")
	cmd.Flags().StringVar(&schema, "schema", "", "Schema file path (accepted for protocol parity)")
	cmd.Flags().IntVar(&seedAgents, "seed-agents", 12, "Number of agents to seed")
	return cmd
}

func newInitDBCommand() *cobra.Command {
	var url, schema string
	var seedAgents int
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Connect to (and schema-initialize) a Postgres database",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if url != "" {
				args["url"] = url
			}
			if schema != "" {
				args["schema"] = schema
			}
			if seedAgents > 0 {
				args["seed_agents"] = seedAgents
			}
			runAndExit("init-db", args)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Database URL (falls back to discovery if empty)")
	cmd.Flags().StringVar(&schema, "schema", "", "Schema file path (accepted for protocol parity)")
	cmd.Flags().IntVar(&seedAgents, "seed-agents", 0, "Number of agents to seed after connecting")
	return cmd
}

func newInitLocalDBCommand() *cobra.Command {
	var containerName, user, database, schema string
	var port, seedAgents int
	cmd := &cobra.Command{
		Use:   "init-local-db",
		Short: "Start a local Postgres container, then init-db against it",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if containerName != "" {
				args["container_name"] = containerName
			}
			if port > 0 {
				args["port"] = port
			}
			if user != "" {
				args["user"] = user
			}
			if database != "" {
				args["database"] = database
			}
			if schema != "" {
				args["schema"] = schema
			}
			if seedAgents > 0 {
				args["seed_agents"] = seedAgents
			}
			runAndExit("init-local-db", args)
		},
	}
	cmd.Flags().StringVar(&containerName, "container-name", "swarm-postgres", "Docker container name")
	cmd.Flags().IntVar(&port, "port", 5432, "Host port to publish")
	cmd.Flags().StringVar(&user, "user", "swarm", "Postgres user/password/owner name")
	cmd.Flags().StringVar(&database, "database", "swarm", "Postgres database name")
	cmd.Flags().StringVar(&schema, "schema", "", "Schema file path (accepted for protocol parity)")
	cmd.Flags().IntVar(&seedAgents, "seed-agents", 0, "Number of agents to seed after connecting")
	return cmd
}

func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Run the repository's init.sh bootstrap script",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("bootstrap", nil)
		},
	}
}

func newSpawnPromptsCommand() *cobra.Command {
	var template, outDir string
	var count int
	cmd := &cobra.Command{
		Use:   "spawn-prompts",
		Short: "Render numbered prompt files from a template",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if template != "" {
				args["template"] = template
			}
			if outDir != "" {
				args["out_dir"] = outDir
			}
			if count > 0 {
				args["count"] = count
			}
			runAndExit("spawn-prompts", args)
		},
	}
	cmd.Flags().StringVar(&template, "template", "", "Path to the prompt template (built-in template if empty)")
	cmd.Flags().StringVar(&outDir, "out-dir", ".agents/generated", "Directory to write numbered prompt files into")
	cmd.Flags().IntVar(&count, "count", 12, "Number of prompt files to write")
	return cmd
}

func newPromptCommand() *cobra.Command {
	var id, skill string
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Fetch a fixed skill prompt, or an agent's rendered prompt",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{}
			if skill != "" {
				args["skill"] = skill
			}
			if id != "" {
				args["id"] = id
			}
			runAndExit("prompt", args)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Agent id whose current-stage prompt to fetch")
	cmd.Flags().StringVar(&skill, "skill", "", "Fixed skill name (rust-contract, implement, qa-enforcer, red-queen)")
	return cmd
}

func newSmokeCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one end-to-end smoke cycle for an agent",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("smoke", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newLockCommand() *cobra.Command {
	var resource, agent string
	var ttlMs int64
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire a resource lock",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("lock", map[string]any{"resource": resource, "agent": agent, "ttl_ms": ttlMs})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource name to lock (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent id requesting the lock (required)")
	cmd.Flags().Int64Var(&ttlMs, "ttl-ms", 30000, "Lease duration in milliseconds")
	cmd.MarkFlagRequired("resource")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newUnlockCommand() *cobra.Command {
	var resource, agent string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release a resource lock",
		Run: func(_ *cobra.Command, _ []string) {
			runAndExit("unlock", map[string]any{"resource": resource, "agent": agent})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource name to unlock (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent id releasing the lock (required)")
	cmd.MarkFlagRequired("resource")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newBroadcastCommand() *cobra.Command {
	var msg, from string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a message to every other registered agent",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{"msg": msg}
			if from != "" {
				args["from"] = from
			}
			runAndExit("broadcast", args)
		},
	}
	cmd.Flags().StringVar(&msg, "msg", "", "Message body (required)")
	cmd.Flags().StringVar(&from, "from", "", "Sending agent id")
	cmd.MarkFlagRequired("msg")
	return cmd
}

func newLoadProfileCommand() *cobra.Command {
	var agents, rounds int
	var timeoutMs int64
	cmd := &cobra.Command{
		Use:   "load-profile",
		Short: "Run a synthetic concurrency load profile against claim_next",
		Run: func(_ *cobra.Command, _ []string) {
			args := map[string]any{"agents": agents, "rounds": rounds}
			if timeoutMs > 0 {
				args["timeout_ms"] = timeoutMs
			}
			runAndExit("load-profile", args)
		},
	}
	cmd.Flags().IntVar(&agents, "agents", 90, "Synthetic agent count")
	cmd.Flags().IntVar(&rounds, "rounds", 5, "Rounds of claim_next per agent")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 1500, "Timeout for each claim_next call in milliseconds")
	return cmd
}
