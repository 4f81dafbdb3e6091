package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/collab"
	"github.com/meow-stack/storyflow/internal/condition"
	"github.com/meow-stack/storyflow/internal/logging"
	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/storage"
)

// executionFlags are shared by run and step.
type executionFlags struct {
	vars           []string
	inputs         []string
	nonInteractive bool
	reset          bool
}

func (f *executionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "workflow variable (key=value, repeatable)")
	cmd.Flags().StringArrayVar(&f.inputs, "input", nil, "answer for an elicit step (variable=value, repeatable)")
	cmd.Flags().BoolVar(&f.nonInteractive, "non-interactive", false, "never prompt; elicit steps without an answer fail")
	cmd.Flags().BoolVar(&f.reset, "reset", false, "discard saved progress and start from the first step")
}

// session is one locked, wired executor for a workflow instance.
type session struct {
	exec   *orchestrator.Executor
	lock   *storage.Lock
	tracer *orchestrator.Tracer
	logs   io.Closer
}

// openSession resolves ref, takes the instance lock and wires the
// executor's collaborators from configuration.
func openSession(ctx context.Context, cmd *cobra.Command, env *environment, ref string, flags *executionFlags) (*session, error) {
	loc, err := env.loader.ResolveWorkflow(ctx, ref)
	if err != nil {
		return nil, err
	}
	wf, err := env.loader.LoadPath(ctx, loc.Path)
	if err != nil {
		return nil, err
	}
	vars, err := parseVars(flags.vars)
	if err != nil {
		return nil, err
	}
	answers, err := parseInputs(flags.inputs)
	if err != nil {
		return nil, err
	}

	store, err := env.store(ctx)
	if err != nil {
		return nil, err
	}
	key := orchestrator.StateKey(wf.Name)
	lock, err := storage.AcquireLock(env.stateDir(), key)
	if err != nil {
		return nil, err
	}
	s := &session{lock: lock}

	logger, closer, err := logging.NewForInstance(env.cfg, env.dir, key)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating instance logger: %w", err)
	}
	s.logs = closer

	var tracer orchestrator.TracerInterface
	if env.cfg.Engine.Trace {
		t, err := orchestrator.NewTracer(env.st.Afero(), env.stateDir(), key, wf.Name)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.tracer = t
		tracer = t
	}

	var prompt orchestrator.InputProvider
	if env.cfg.Input.Interactive && !flags.nonInteractive {
		prompt = collab.NewPromptInput()
	}

	mode := condition.Permissive
	if env.cfg.Engine.StrictValidate {
		mode = condition.Strict
	}

	s.exec, err = orchestrator.New(wf, orchestrator.Options{
		Store:        store,
		Storage:      env.st,
		Loader:       env.loader,
		Renderer:     collab.NewFileRenderer(env.st, env.cfg.TemplatesDir(env.dir), filepath.Dir(loc.Path)),
		Generator:    collab.NewCommandGenerator(env.cfg.Reflect, env.dir),
		Input:        collab.NewStaticInput(answers, prompt),
		Emitter:      collab.NewConsoleEmitter(cmd.OutOrStdout(), noColor),
		Logger:       logger,
		Tracer:       tracer,
		StateKey:     key,
		InitialVars:  vars,
		BaseDir:      env.dir,
		StatusFile:   env.cfg.StatusFile(env.dir),
		OutputDir:    env.cfg.OutputDir(env.dir),
		MaxDepth:     env.cfg.Engine.MaxDepth,
		ValidateMode: mode,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	if flags.reset {
		if err := s.exec.Reset(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	if s.tracer != nil {
		s.tracer.Close()
	}
	if s.logs != nil {
		s.logs.Close()
	}
	if s.lock != nil {
		s.lock.Release()
	}
}
