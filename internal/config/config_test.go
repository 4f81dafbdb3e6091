package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != "1" {
		t.Errorf("Version = %s, want 1", cfg.Version)
	}
	if cfg.Paths.WorkflowsDir != ".storyflow/workflows" {
		t.Errorf("WorkflowsDir = %s, want .storyflow/workflows", cfg.Paths.WorkflowsDir)
	}
	if cfg.Paths.StateDir != ".storyflow/state" {
		t.Errorf("StateDir = %s, want .storyflow/state", cfg.Paths.StateDir)
	}
	if cfg.Engine.MaxDepth != 10 {
		t.Errorf("MaxDepth = %d, want 10", cfg.Engine.MaxDepth)
	}
	if cfg.Logging.Level != LogLevelInfo {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Reflect.Timeout != 10*time.Minute {
		t.Errorf("Reflect.Timeout = %v, want 10m", cfg.Reflect.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
version = "2"

[paths]
workflows_dir = "custom/workflows"
status_file = "board.md"

[engine]
max_depth = 4
trace = false

[logging]
level = "debug"
format = "json"

[reflect]
command = "llm"
timeout = "30s"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Version != "2" {
		t.Errorf("Version = %s, want 2", cfg.Version)
	}
	if cfg.Paths.WorkflowsDir != "custom/workflows" {
		t.Errorf("WorkflowsDir = %s, want custom/workflows", cfg.Paths.WorkflowsDir)
	}
	if cfg.Paths.StateDir != ".storyflow/state" {
		t.Errorf("StateDir = %s, want default kept", cfg.Paths.StateDir)
	}
	if cfg.Engine.MaxDepth != 4 || cfg.Engine.Trace {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if !cfg.Engine.StrictValidate {
		t.Error("StrictValidate default should survive a partial [engine] table")
	}
	if cfg.Logging.Level != LogLevelDebug {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.Reflect.Timeout != 30*time.Second {
		t.Errorf("Reflect.Timeout = %v, want 30s", cfg.Reflect.Timeout)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load should not fail for non-existent file: %v", err)
	}
	if cfg.Version != "1" {
		t.Errorf("Should return defaults, got version = %s", cfg.Version)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(configPath, []byte(`invalid = [toml content`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load should fail for invalid TOML")
	}
}

func TestLoad_ReadError(t *testing.T) {
	// Reading a directory fails with a read error, not "not found"
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load should fail when trying to read a directory")
	}
}

func TestLoadFromDir_ProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".storyflow"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".storyflow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".storyflow", "config.toml"),
		[]byte("[engine]\nmax_depth = 3\n[logging]\nlevel = \"warn\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".storyflow", "config.toml"),
		[]byte("[engine]\nmax_depth = 6\n"), 0644))

	cfg, err := LoadFromDir(project)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Engine.MaxDepth, "project config wins")
	assert.Equal(t, LogLevelWarn, cfg.Logging.Level, "global config applies where project is silent")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STORYFLOW_ENGINE_MAX_DEPTH", "7")
	t.Setenv("STORYFLOW_ENGINE_TRACE", "false")
	t.Setenv("STORYFLOW_PATHS_STATE_DIR", "/var/lib/storyflow")
	t.Setenv("STORYFLOW_LOGGING_LEVEL", "DEBUG")
	t.Setenv("STORYFLOW_REFLECT_TIMEOUT", "90s")
	t.Setenv("STORYFLOW_INPUT_INTERACTIVE", "false")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, 7, cfg.Engine.MaxDepth)
	assert.False(t, cfg.Engine.Trace)
	assert.Equal(t, "/var/lib/storyflow", cfg.Paths.StateDir)
	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, 90*time.Second, cfg.Reflect.Timeout)
	assert.False(t, cfg.Input.Interactive)

	// Untouched keys keep their values.
	assert.Equal(t, ".storyflow/workflows", cfg.Paths.WorkflowsDir)
	assert.True(t, cfg.Engine.StrictValidate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty version", func(c *Config) { c.Version = "" }, "version"},
		{"empty workflows dir", func(c *Config) { c.Paths.WorkflowsDir = "" }, "workflows_dir"},
		{"empty state dir", func(c *Config) { c.Paths.StateDir = "" }, "state_dir"},
		{"zero depth", func(c *Config) { c.Engine.MaxDepth = 0 }, "max_depth"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	base := "/project"

	assert.Equal(t, "/project/.storyflow/state", cfg.StateDir(base))
	assert.Equal(t, "/project/docs/stories.md", cfg.StatusFile(base))

	cfg.Paths.WorkflowsDir = "/abs/workflows"
	assert.Equal(t, "/abs/workflows", cfg.WorkflowsDir(base))

	assert.Equal(t, "", cfg.LogFile(base))
	cfg.Logging.File = "storyflow.log"
	assert.Equal(t, "/project/.storyflow/logs/storyflow.log", cfg.LogFile(base))
	cfg.Logging.File = "var/run.log"
	assert.Equal(t, "/project/var/run.log", cfg.LogFile(base))
}
