package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// STORYFLOW_ENGINE_MAX_DEPTH=5.
const EnvPrefix = "STORYFLOW"

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration. Relative paths resolve against the
// working directory.
type PathsConfig struct {
	WorkflowsDir string `toml:"workflows_dir"`
	StateDir     string `toml:"state_dir"`
	StatusFile   string `toml:"status_file"` // Story board used by load_state_machine and story commands
	TemplatesDir string `toml:"templates_dir"`
	OutputDir    string `toml:"output_dir"`
	LogsDir      string `toml:"logs_dir"`
}

// EngineConfig holds executor settings.
type EngineConfig struct {
	MaxDepth       int  `toml:"max_depth"`       // Deepest allowed sub-workflow nesting
	StrictValidate bool `toml:"strict_validate"` // validate steps fail on unbound variables
	Trace          bool `toml:"trace"`           // Write a JSONL trace per instance
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// ReflectConfig configures the default text generator used by reflect steps.
type ReflectConfig struct {
	Command string        `toml:"command"` // Prompt is written to stdin
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

// InputConfig configures the default input provider used by elicit steps.
type InputConfig struct {
	Interactive bool `toml:"interactive"`
}

// Config is the main configuration struct for storyflow.
type Config struct {
	Version string        `toml:"version"`
	Paths   PathsConfig   `toml:"paths"`
	Engine  EngineConfig  `toml:"engine"`
	Logging LoggingConfig `toml:"logging"`
	Reflect ReflectConfig `toml:"reflect"`
	Input   InputConfig   `toml:"input"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			WorkflowsDir: ".storyflow/workflows",
			StateDir:     ".storyflow/state",
			StatusFile:   "docs/stories.md",
			TemplatesDir: ".storyflow/templates",
			OutputDir:    ".",
			LogsDir:      ".storyflow/logs",
		},
		Engine: EngineConfig{
			MaxDepth:       10,
			StrictValidate: true,
			Trace:          true,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Reflect: ReflectConfig{
			Command: "claude -p",
			Timeout: 10 * time.Minute,
		},
		Input: InputConfig{
			Interactive: true,
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.storyflow/config.toml -> .storyflow/config.toml -> env
// Later sources override earlier ones.
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".storyflow", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".storyflow", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBindings maps each overridable key to the field it sets.
func envBindings(cfg *Config) map[string]any {
	return map[string]any{
		"paths.workflows_dir":    &cfg.Paths.WorkflowsDir,
		"paths.state_dir":        &cfg.Paths.StateDir,
		"paths.status_file":      &cfg.Paths.StatusFile,
		"paths.templates_dir":    &cfg.Paths.TemplatesDir,
		"paths.output_dir":       &cfg.Paths.OutputDir,
		"paths.logs_dir":         &cfg.Paths.LogsDir,
		"engine.max_depth":       &cfg.Engine.MaxDepth,
		"engine.strict_validate": &cfg.Engine.StrictValidate,
		"engine.trace":           &cfg.Engine.Trace,
		"logging.level":          &cfg.Logging.Level,
		"logging.format":         &cfg.Logging.Format,
		"logging.file":           &cfg.Logging.File,
		"reflect.command":        &cfg.Reflect.Command,
		"reflect.model":          &cfg.Reflect.Model,
		"reflect.timeout":        &cfg.Reflect.Timeout,
		"input.interactive":      &cfg.Input.Interactive,
	}
}

// ApplyEnv overlays STORYFLOW_<SECTION>_<KEY> environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, field := range envBindings(cfg) {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
		if !v.IsSet(key) {
			continue
		}
		switch p := field.(type) {
		case *string:
			*p = v.GetString(key)
		case *int:
			*p = v.GetInt(key)
		case *bool:
			*p = v.GetBool(key)
		case *time.Duration:
			*p = v.GetDuration(key)
		case *LogLevel:
			*p = LogLevel(strings.ToLower(v.GetString(key)))
		case *LogFormat:
			*p = LogFormat(strings.ToLower(v.GetString(key)))
		}
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.WorkflowsDir == "" {
		return fmt.Errorf("workflows_dir is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Paths.StatusFile == "" {
		return fmt.Errorf("status_file is required")
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1, got %d", c.Engine.MaxDepth)
	}
	switch c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Reflect.Timeout < 0 {
		return fmt.Errorf("reflect timeout must not be negative")
	}
	return nil
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// WorkflowsDir returns the absolute workflows directory path.
func (c *Config) WorkflowsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.WorkflowsDir)
}

// StateDir returns the absolute state directory path.
func (c *Config) StateDir(baseDir string) string {
	return resolve(baseDir, c.Paths.StateDir)
}

// StatusFile returns the absolute story board path.
func (c *Config) StatusFile(baseDir string) string {
	return resolve(baseDir, c.Paths.StatusFile)
}

// TemplatesDir returns the absolute templates directory path.
func (c *Config) TemplatesDir(baseDir string) string {
	return resolve(baseDir, c.Paths.TemplatesDir)
}

// OutputDir returns the absolute directory template outputs resolve against.
func (c *Config) OutputDir(baseDir string) string {
	return resolve(baseDir, c.Paths.OutputDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.LogsDir)
}

// LogFile returns the absolute log file path. A bare file name lands in
// the logs directory.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	if filepath.Base(c.Logging.File) == c.Logging.File {
		return filepath.Join(c.LogsDir(baseDir), c.Logging.File)
	}
	return filepath.Join(baseDir, c.Logging.File)
}
