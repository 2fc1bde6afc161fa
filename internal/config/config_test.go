package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

func TestDefaultHasStageCommandsForEveryStage(t *testing.T) {
	cfg := Default()
	for _, s := range []stage.Stage{stage.RustContract, stage.Implement, stage.QaEnforcer, stage.RedQueen} {
		cmd, ok := cfg.CommandFor(s)
		require.True(t, ok, "missing command template for %s", s)
		require.NotEmpty(t, cmd)
	}
}

func TestDefaultAgentsTuning(t *testing.T) {
	cfg := Default()
	require.Equal(t, uint32(3), cfg.Agents.MaxImplementationAttempts)
	require.Greater(t, cfg.Agents.LeaseExtension.Seconds(), 0.0)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.yaml")
	doc := []byte(`
database:
  dsn: "postgres://localhost/swarm"
agents:
  max_implementation_attempts: 5
stage_commands:
  rust-contract: "custom-contract-runner {bead_id} {agent_id}"
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/swarm", cfg.Database.DSN)
	require.Equal(t, uint32(5), cfg.Agents.MaxImplementationAttempts)

	cmd, ok := cfg.CommandFor(stage.RustContract)
	require.True(t, ok)
	require.Equal(t, "custom-contract-runner {bead_id} {agent_id}", cmd)

	// Untouched stages keep their default templates.
	implementCmd, ok := cfg.CommandFor(stage.Implement)
	require.True(t, ok)
	require.NotEmpty(t, implementCmd)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.toml")
	doc := []byte(`
[database]
dsn = "postgres://localhost/swarm"

[agents]
max_implementation_attempts = 7
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := LoadTOML(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/swarm", cfg.Database.DSN)
	require.Equal(t, uint32(7), cfg.Agents.MaxImplementationAttempts)
}

func TestLoadDispatchesByExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "swarm.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("agents:\n  max_implementation_attempts: 9\n"), 0o600))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	require.Equal(t, uint32(9), cfg.Agents.MaxImplementationAttempts)

	_, err = Load(filepath.Join(dir, "swarm.ini"))
	require.Error(t, err)
}

func TestDatabaseURLEnvOverridesFile(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "postgres://file/dsn"
	require.Equal(t, "postgres://file/dsn", cfg.DatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://env/dsn")
	require.Equal(t, "postgres://env/dsn", cfg.DatabaseURL())
}
