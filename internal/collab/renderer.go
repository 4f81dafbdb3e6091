// Package collab provides the default collaborators the CLI wires into the
// executor: a file template renderer, a command-backed text generator,
// prompt and static input providers, and a console emitter.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// goTemplateExts are rendered with text/template. Anything else gets plain
// {{name}} placeholder substitution.
var goTemplateExts = map[string]bool{
	".tmpl":   true,
	".gotmpl": true,
}

// FileRenderer renders templates stored as files.
type FileRenderer struct {
	st   storage.Storage
	dirs []string
}

// NewFileRenderer returns a renderer that looks up relative template names
// in dirs, in order.
func NewFileRenderer(st storage.Storage, dirs ...string) *FileRenderer {
	return &FileRenderer{st: st, dirs: dirs}
}

// Render loads the named template and renders it against vars.
func (r *FileRenderer) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	path, err := r.locate(ctx, name)
	if err != nil {
		return "", err
	}
	data, err := r.st.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}

	if !goTemplateExts[strings.ToLower(filepath.Ext(path))] {
		return workflow.Resolve(string(data), vars), nil
	}

	tmpl, err := template.New(filepath.Base(path)).
		Funcs(templateFuncs(vars)).
		Option("missingkey=zero").
		Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", path, err)
	}
	return buf.String(), nil
}

func (r *FileRenderer) locate(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", flowerrors.New(flowerrors.CodeIOFileNotFound, "template name is empty")
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	var searched []string
	for _, dir := range r.dirs {
		candidate := filepath.Join(dir, name)
		ok, err := r.st.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
		searched = append(searched, candidate)
	}
	return "", flowerrors.Newf(flowerrors.CodeIOFileNotFound, "template %q not found", name).
		WithDetail("searched", searched)
}

func templateFuncs(vars map[string]any) template.FuncMap {
	return template.FuncMap{
		"var": func(name string) any {
			v, _ := workflow.Lookup(vars, name)
			return v
		},
		"str":   workflow.StringifyValue,
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, v any) string {
			items, ok := v.([]any)
			if !ok {
				return workflow.StringifyValue(v)
			}
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = workflow.StringifyValue(item)
			}
			return strings.Join(parts, sep)
		},
		"default": func(def, v any) any {
			if v == nil {
				return def
			}
			if s, ok := v.(string); ok && s == "" {
				return def
			}
			return v
		},
	}
}
