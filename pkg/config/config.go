// Package config loads project configuration: built-in defaults, the
// project's YAML file, then environment overrides, each layer winning over
// the one below it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file, relative to the project root.
const FileName = ".gao-dev/config.yaml"

// ServerConfig configures the observability HTTP server.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	// InstallDir holds the installed workflow definitions.
	InstallDir string `yaml:"install_dir"`

	// MaxRetries is the per-step retry count after the first attempt. A
	// pointer so an explicit zero in the file is distinguishable from unset.
	MaxRetries *int `yaml:"max_retries"`

	// StoryCap bounds the story loop regardless of the plan's estimate.
	StoryCap int `yaml:"story_cap"`
}

// EventsConfig configures the WebSocket replay buffer.
type EventsConfig struct {
	ReplayCapacity int           `yaml:"replay_capacity"`
	ReplayTTL      time.Duration `yaml:"replay_ttl"`
}

// Config is the full project configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Events   EventsConfig   `yaml:"events"`

	// TrackedDirs are the directories the artifact manager snapshots.
	TrackedDirs []string `yaml:"tracked_dirs"`

	// DisableAutoCommit turns off ceremony git commits. Auto-commit is on
	// by default when the project is a repository.
	DisableAutoCommit bool `yaml:"disable_auto_commit"`

	// Participants are the default ceremony participants.
	Participants []string `yaml:"participants"`

	// StandupCadence overrides the every-K-stories standup frequency per
	// scale level, e.g. {3: 2, 4: 5}. Empty keeps the built-in table.
	StandupCadence map[int]int `yaml:"standup_cadence"`

	// Variables are user-level variable overrides applied during workflow
	// variable resolution.
	Variables map[string]string `yaml:"variables"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8754,
			MaxConnections: 32,
		},
		Workflow: WorkflowConfig{
			InstallDir: "workflows",
			MaxRetries: intp(2),
			StoryCap:   100,
		},
		Events: EventsConfig{
			ReplayCapacity: 1000,
			ReplayTTL:      10 * time.Minute,
		},
		TrackedDirs:  []string{"docs", "src", "pkg"},
		Participants: []string{"pm", "architect", "dev"},
	}
}

// Load reads the project configuration. A missing config file is not an
// error; the defaults apply. A .env file in the project root, when present,
// is loaded into the environment first.
func Load(projectRoot string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))

	var cfg Config
	raw, err := os.ReadFile(filepath.Join(projectRoot, filepath.FromSlash(FileName)))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", FileName, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	defaults := Defaults()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv applies environment overrides, the highest-precedence layer.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GAO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GAO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GAO_WORKFLOW_DIR"); v != "" {
		cfg.Workflow.InstallDir = v
	}
	if v := os.Getenv("GAO_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Workflow.MaxRetries = intp(n)
		}
	}
	if v := os.Getenv("GAO_STORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workflow.StoryCap = n
		}
	}
	if v := os.Getenv("GAO_DISABLE_AUTO_COMMIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DisableAutoCommit = b
		}
	}
}

func intp(n int) *int {
	return &n
}
