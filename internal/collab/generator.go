package collab

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/meow-stack/storyflow/internal/config"
	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// Environment passed to the generator command.
const (
	EnvModel       = "STORYFLOW_MODEL"
	EnvParamPrefix = "STORYFLOW_PARAM_"
)

// killGrace is how long a cancelled command gets between SIGTERM and SIGKILL.
var killGrace = 3 * time.Second

// CommandGenerator produces text by running a shell command. The prompt is
// written to the command's stdin and its trimmed stdout is the result.
type CommandGenerator struct {
	// Command is run with Shell -c.
	Command string
	// Model is used when a request does not name one.
	Model   string
	Timeout time.Duration
	Dir     string

	// Shell defaults to "/bin/sh".
	Shell string
}

// NewCommandGenerator creates a generator from the reflect config.
func NewCommandGenerator(cfg config.ReflectConfig, dir string) *CommandGenerator {
	return &CommandGenerator{
		Command: cfg.Command,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Dir:     dir,
		Shell:   "/bin/sh",
	}
}

// Generate runs the command for one request. When the context is cancelled
// the whole process group is terminated (SIGTERM, then SIGKILL after a grace
// period).
func (g *CommandGenerator) Generate(ctx context.Context, req orchestrator.GenerateRequest) (string, error) {
	if strings.TrimSpace(g.Command) == "" {
		return "", fmt.Errorf("generator command is empty")
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	shell := g.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	// Not CommandContext: cancellation is handled below so the process
	// group gets SIGTERM before SIGKILL.
	cmd := exec.Command(shell, "-c", g.Command)
	cmd.Dir = g.Dir
	cmd.Env = append(os.Environ(), g.env(req)...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting generator: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
		return "", fmt.Errorf("generator interrupted: %w", ctx.Err())

	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if exitErr, ok := err.(*exec.ExitError); ok {
				if msg == "" {
					msg = "no stderr output"
				}
				return "", fmt.Errorf("generator exited with code %d: %s", exitErr.ExitCode(), msg)
			}
			return "", fmt.Errorf("running generator: %w", err)
		}
	}

	return strings.TrimSuffix(stdout.String(), "\n"), nil
}

func (g *CommandGenerator) env(req orchestrator.GenerateRequest) []string {
	model := req.Model
	if model == "" {
		model = g.Model
	}
	env := []string{EnvModel + "=" + model}

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := EnvParamPrefix + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		env = append(env, name+"="+workflow.StringifyValue(req.Params[k]))
	}
	return env
}
