package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/types"
)

// Loader loads workflows from project and user directories.
type Loader struct {
	Storage storage.Storage

	// ProjectDir is the project's workflows directory
	// (paths.workflows_dir, default .storyflow/workflows).
	ProjectDir string

	// UserDir is the user's workflows directory.
	// Default: ~/.storyflow/workflows
	UserDir string

	// Scope restricts which directories bare names are searched in.
	// Empty means project, then user.
	Scope Scope

	Logger *slog.Logger
}

// WorkflowLocation describes where a workflow reference resolved.
type WorkflowLocation struct {
	Path   string
	Source string // "path", "project" or "user"
}

// NewLoader creates a loader searching projectDir, then ~/.storyflow/workflows.
func NewLoader(st storage.Storage, projectDir string, logger *slog.Logger) *Loader {
	userDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		userDir = filepath.Join(home, ".storyflow", "workflows")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		Storage:    st,
		ProjectDir: projectDir,
		UserDir:    userDir,
		Logger:     logger,
	}
}

// LoadFile reads and parses a definition. The format is chosen by extension.
func LoadFile(ctx context.Context, st storage.Storage, path string) (*types.Workflow, []Warning, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, nil, flowerrors.Newf(flowerrors.CodeLoadParse,
			"%s: unsupported workflow file extension (expected %s)", path, strings.Join(Extensions, ", ")).
			WithDetail("file", path)
	}
	data, err := st.ReadFile(ctx, path)
	if err != nil {
		return nil, nil, flowerrors.Wrapf(flowerrors.CodeLoadRead, err, "%s: cannot read workflow definition", path).
			WithDetail("file", path)
	}
	return Parse(data, path, format)
}

// Load resolves ref and loads it. Warnings are logged.
func (l *Loader) Load(ctx context.Context, ref string) (*types.Workflow, error) {
	loc, err := l.ResolveWorkflow(ctx, ref)
	if err != nil {
		return nil, err
	}
	return l.LoadPath(ctx, loc.Path)
}

// LoadPath loads a definition from a concrete path. Warnings are logged.
func (l *Loader) LoadPath(ctx context.Context, path string) (*types.Workflow, error) {
	wf, warnings, err := LoadFile(ctx, l.Storage, path)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		l.logger().Warn("workflow definition warning",
			"file", w.File, "where", w.Where, "field", w.Field, "message", w.Message)
	}
	return wf, nil
}

// ResolveWorkflow returns the path for a reference.
//
// A reference with a directory component or a recognized extension is a
// path and is used as given. A bare name is searched as name.yaml,
// name.yml and name.toml in the project directory, then the user directory.
func (l *Loader) ResolveWorkflow(ctx context.Context, ref string) (*WorkflowLocation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, flowerrors.New(flowerrors.CodeLoadRead, "workflow reference is empty")
	}

	if isPathRef(ref) {
		path := ref
		if abs, err := filepath.Abs(ref); err == nil {
			path = abs
		}
		ok, err := l.Storage.Exists(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound(ref, []string{path}, l.Scope)
		}
		return &WorkflowLocation{Path: path, Source: "path"}, nil
	}

	searched := l.searchPaths(ref)
	for _, candidate := range searched {
		ok, err := l.Storage.Exists(ctx, candidate.Path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &WorkflowLocation{Path: candidate.Path, Source: candidate.Source}, nil
		}
	}
	paths := make([]string, len(searched))
	for i, c := range searched {
		paths[i] = c.Path
	}
	return nil, notFound(ref, paths, l.Scope)
}

func isPathRef(ref string) bool {
	if strings.ContainsRune(ref, '/') || strings.ContainsRune(ref, filepath.Separator) {
		return true
	}
	_, ok := FormatFromPath(ref)
	return ok
}

func (l *Loader) searchPaths(name string) []WorkflowLocation {
	var out []WorkflowLocation
	add := func(dir, source string) {
		if dir == "" {
			return
		}
		for _, ext := range Extensions {
			out = append(out, WorkflowLocation{Path: filepath.Join(dir, name+ext), Source: source})
		}
	}
	if l.Scope.SearchesProject() {
		add(l.ProjectDir, "project")
	}
	if l.Scope.SearchesUser() {
		add(l.UserDir, "user")
	}
	return out
}

func notFound(ref string, searched []string, scope Scope) error {
	msg := fmt.Sprintf("workflow %q not found in: %v", ref, searched)
	if scope != "" {
		msg += fmt.Sprintf(" (scope: %s)", scope)
	}
	return flowerrors.New(flowerrors.CodeLoadRead, msg).
		WithDetail("ref", ref).
		WithDetail("searched", searched)
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// AvailableWorkflow describes a definition found by ListAvailable.
type AvailableWorkflow struct {
	Name        string // File name without extension
	Title       string // Workflow name from the definition
	Description string
	Source      string // "project" or "user"
	Path        string
	Err         error // Set when the file does not load
}

// ListAvailable returns the definitions in the searched directories,
// grouped by source. Files that fail to load are listed with Err set.
func (l *Loader) ListAvailable(ctx context.Context) (map[string][]AvailableWorkflow, error) {
	result := make(map[string][]AvailableWorkflow)
	if l.Scope.SearchesProject() && l.ProjectDir != "" {
		list, err := l.listFromDir(ctx, l.ProjectDir, "project")
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			result["project"] = list
		}
	}
	if l.Scope.SearchesUser() && l.UserDir != "" {
		list, err := l.listFromDir(ctx, l.UserDir, "user")
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			result["user"] = list
		}
	}
	return result, nil
}

func (l *Loader) listFromDir(ctx context.Context, dir, source string) ([]AvailableWorkflow, error) {
	names, err := l.Storage.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var workflows []AvailableWorkflow
	for _, name := range names {
		if _, ok := FormatFromPath(name); !ok {
			continue
		}
		full := filepath.Join(dir, name)
		entry := AvailableWorkflow{
			Name:   strings.TrimSuffix(name, filepath.Ext(name)),
			Source: source,
			Path:   full,
		}
		wf, _, err := LoadFile(ctx, l.Storage, full)
		if err != nil {
			entry.Err = err
		} else {
			entry.Title = wf.Name
			entry.Description = wf.Description
		}
		workflows = append(workflows, entry)
	}
	return workflows, nil
}
