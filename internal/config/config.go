// Package config loads the daemon's runtime configuration: the Postgres
// DSN, lease/attempt tuning, and the per-stage shell command templates
// the orchestrator's stage executor renders and runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" toml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

// AgentsConfig tunes the claim lease and retry behavior shared by every
// registered agent.
type AgentsConfig struct {
	LeaseExtension            time.Duration `yaml:"lease_extension" toml:"lease_extension"`
	MaxImplementationAttempts uint32        `yaml:"max_implementation_attempts" toml:"max_implementation_attempts"`
}

// ExternalToolsConfig names the binaries the extproc.Runner shells out to.
// Empty values fall back to the bare name on $PATH.
type ExternalToolsConfig struct {
	Beads  string `yaml:"beads" toml:"beads"`   // br
	Vision string `yaml:"vision" toml:"vision"` // bv
	Jujutsu string `yaml:"jujutsu" toml:"jujutsu"` // jj
	Git    string `yaml:"git" toml:"git"`
	Moon   string `yaml:"moon" toml:"moon"`
	Zellij string `yaml:"zellij" toml:"zellij"` // zjj
	Pass   string `yaml:"pass" toml:"pass"`
}

// Config is the full swarm-config document (swarm.yaml or swarm.toml).
type Config struct {
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Agents        AgentsConfig        `yaml:"agents" toml:"agents"`
	ExternalTools ExternalToolsConfig `yaml:"external_tools" toml:"external_tools"`

	// StageCommands maps a stage's wire name (e.g. "rust-contract") to the
	// shell command template run for it. {bead_id} and {agent_id} are
	// substituted by extproc.RenderTemplate.
	StageCommands map[string]string `yaml:"stage_commands" toml:"stage_commands"`
}

// Default returns the built-in configuration used when no config file is
// found, mirroring pgollucci-loom's pkg/config.DefaultConfig shape.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Agents: AgentsConfig{
			LeaseExtension:            10 * time.Minute,
			MaxImplementationAttempts: 3,
		},
		ExternalTools: ExternalToolsConfig{
			Beads:   "br",
			Vision:  "bv",
			Jujutsu: "jj",
			Git:     "git",
			Moon:    "moon",
			Zellij:  "zjj",
			Pass:    "pass",
		},
		StageCommands: map[string]string{
			stage.RustContract.String(): "swarm-agent contract {bead_id} {agent_id}",
			stage.Implement.String():    "swarm-agent implement {bead_id} {agent_id}",
			stage.QaEnforcer.String():   "swarm-agent qa {bead_id} {agent_id}",
			stage.RedQueen.String():     "swarm-agent red-queen {bead_id} {agent_id}",
		},
	}
}

// LoadYAML loads a YAML config document from path, expanding environment
// variables (e.g. ${DATABASE_URL}) before parsing.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTOML loads the alternate TOML config document, for operators
// migrating from other tools in this pack that standardize on TOML.
func LoadTOML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml %s: %w", path, err)
	}
	return cfg, nil
}

// Load dispatches to LoadYAML or LoadTOML by file extension.
func Load(path string) (*Config, error) {
	switch {
	case strings.HasSuffix(path, ".toml"):
		return LoadTOML(path)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("config: unrecognized config file extension: %s", path)
	}
}

// CommandFor implements orchestrator.CommandResolver.
func (c *Config) CommandFor(s stage.Stage) (string, bool) {
	cmd, ok := c.StageCommands[s.String()]
	return cmd, ok
}

// DatabaseURL resolves the DSN, letting the DATABASE_URL environment
// variable override whatever the config file set — config files are
// often checked into version control, connection strings rarely should
// be.
func (c *Config) DatabaseURL() string {
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	return c.Database.DSN
}
