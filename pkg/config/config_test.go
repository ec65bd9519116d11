package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(FileName))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8754, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.NotNil(t, cfg.Workflow.MaxRetries)
	assert.Equal(t, 2, *cfg.Workflow.MaxRetries)
	assert.Equal(t, 100, cfg.Workflow.StoryCap)
	assert.Empty(t, cfg.StandupCadence)
	assert.Equal(t, []string{"docs", "src", "pkg"}, cfg.TrackedDirs)
	assert.Equal(t, 10*time.Minute, cfg.Events.ReplayTTL)
	assert.False(t, cfg.DisableAutoCommit)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
server:
  port: 9000
workflow:
  story_cap: 20
tracked_dirs: [docs]
variables:
  author: bob
standup_cadence:
  3: 3
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, 20, cfg.Workflow.StoryCap)
	assert.Equal(t, []string{"docs"}, cfg.TrackedDirs)
	assert.Equal(t, "bob", cfg.Variables["author"])
	assert.Equal(t, map[int]int{3: 3}, cfg.StandupCadence)
}

func TestLoad_ExplicitZeroRetriesIsKept(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "workflow:\n  max_retries: 0\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	require.NotNil(t, cfg.Workflow.MaxRetries)
	assert.Equal(t, 0, *cfg.Workflow.MaxRetries, "zero is not filled with the default")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "server:\n  port: 9000\n")
	t.Setenv("GAO_SERVER_PORT", "9001")
	t.Setenv("GAO_DISABLE_AUTO_COMMIT", "true")
	t.Setenv("GAO_STORY_CAP", "50")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.DisableAutoCommit)
	assert.Equal(t, 50, cfg.Workflow.StoryCap)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "server: [not a map")

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config file")
}
