package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meow-stack/storyflow/internal/config"
	"github.com/meow-stack/storyflow/internal/logging"
	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// environment is what every command needs: the resolved working
// directory, its configuration, storage, a loader and a logger.
type environment struct {
	dir    string
	cfg    *config.Config
	st     *storage.FS
	loader *workflow.Loader
	logger *slog.Logger
	closer io.Closer
}

func newEnvironment() (*environment, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	st := storage.NewOS()
	return &environment{
		dir:    dir,
		cfg:    cfg,
		st:     st,
		loader: workflow.NewLoader(st, cfg.WorkflowsDir(dir), logger),
		logger: logger,
		closer: closer,
	}, nil
}

// loadConfig reads --config when given, otherwise the standard locations
// under dir. --verbose forces debug logging.
func loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err == nil {
			err = config.ApplyEnv(cfg)
		}
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (env *environment) Close() {
	if env.closer != nil {
		env.closer.Close()
	}
}

func (env *environment) stateDir() string {
	return env.cfg.StateDir(env.dir)
}

func (env *environment) store(ctx context.Context) (*orchestrator.YAMLStateStore, error) {
	return orchestrator.NewYAMLStateStore(ctx, env.st, env.stateDir())
}

// parseVars parses key=value pairs. Values are read as YAML scalars, so
// points=5 is a number and ready=true a boolean; anything else stays a
// string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q (expected key=value)", pair)
		}
		vars[key] = scalar(raw)
	}
	return vars, nil
}

func scalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case nil, map[string]any, []any:
		return raw
	}
	return v
}

// parseInputs parses var=value answers for elicit steps. Values stay
// strings; elicit answers are always text.
func parseInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q (expected variable=value)", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func resolveAgainst(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
