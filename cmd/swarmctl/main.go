// Command swarmctl is the operator-facing CLI front end. Each subcommand
// builds exactly one protocol request, dispatches it in-process against a
// freshly wired daemon.Deps (the same wiring swarmd uses over stdin), and
// prints the resulting envelope, exiting with the code its error
// taxonomy assigns to the envelope's error code.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jordanhubbard/swarm-orchestrator/internal/config"
	"github.com/jordanhubbard/swarm-orchestrator/internal/daemon"
	"github.com/jordanhubbard/swarm-orchestrator/internal/dispatcher"
	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/shared"
	"github.com/jordanhubbard/swarm-orchestrator/internal/protocol"
	"github.com/jordanhubbard/swarm-orchestrator/pkg/types"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	configPath string
	repoIDFlag string
	dryFlag    bool
	ridFlag    string
)

// client holds the one daemon.Deps/Dispatcher pair built for this process
// invocation. Every subcommand's Run reads it after root's
// PersistentPreRunE has populated it.
type client struct {
	disp *dispatcher.Dispatcher
	deps *daemon.Deps
}

var cli *client

func main() {
	rootCmd := &cobra.Command{
		Use:     "swarmctl",
		Short:   "swarmctl drives a swarm-orchestrator instance's protocol commands from the shell",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return buildClient(cmd.Context())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if cli == nil {
				return nil
			}
			return cli.deps.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "swarm.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&repoIDFlag, "repo-id", "default", "repo_id to operate against")
	rootCmd.PersistentFlags().BoolVar(&dryFlag, "dry", false, "Preview the command's side effects without performing them")
	rootCmd.PersistentFlags().StringVar(&ridFlag, "rid", "", "Request id to echo back in the response envelope")

	rootCmd.AddCommand(
		newHelpCommand(),
		newDoctorCommand(),
		newStatusCommand(),
		newStateCommand(),
		newAgentsCommand(),
		newHistoryCommand(),
		newNextCommand(),
		newClaimNextCommand(),
		newAssignCommand(),
		newRunOnceCommand(),
		newQACommand(),
		newResumeCommand(),
		newResumeContextCommand(),
		newArtifactsCommand(),
		newAgentCommand(),
		newRegisterCommand(),
		newReleaseCommand(),
		newMonitorCommand(),
		newInitCommand(),
		newInitDBCommand(),
		newInitLocalDBCommand(),
		newBootstrapCommand(),
		newSpawnPromptsCommand(),
		newPromptCommand(),
		newSmokeCommand(),
		newLockCommand(),
		newUnlockCommand(),
		newBroadcastCommand(),
		newLoadProfileCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(protocol.ExitCode(protocol.CodeInternal))
	}
}

func buildClient(ctx context.Context) error {
	cfg := loadConfig(configPath)
	if cfg.Database.DSN != "" && os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", cfg.Database.DSN)
	}
	d, deps, err := daemon.Build(ctx, cfg, shared.RepoID(repoIDFlag))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	cli = &client{disp: d, deps: deps}
	return nil
}

func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); err != nil {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default()
	}
	return cfg
}

// runAndExit builds one {cmd,rid,dry,args} request line, dispatches it
// in-process, prints the response envelope, and exits the process with
// the code its error taxonomy maps the envelope's error code to. It
// never returns.
func runAndExit(cmdName string, args map[string]any) {
	reqLine, err := types.NewRequestLine(cmdName, ridFlag, dryFlag, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode request args: %v\n", err)
		os.Exit(protocol.ExitCode(protocol.CodeInternal))
	}

	line, err := json.Marshal(reqLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal request: %v\n", err)
		os.Exit(protocol.ExitCode(protocol.CodeInternal))
	}

	env := cli.disp.Dispatch(context.Background(), line)
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal response: %v\n", err)
		os.Exit(protocol.ExitCode(protocol.CodeInternal))
	}
	fmt.Println(string(out))

	if env.OK {
		os.Exit(0)
	}
	code := protocol.CodeInternal
	if env.Err != nil {
		code = env.Err.Code
	}
	os.Exit(protocol.ExitCode(code))
}
