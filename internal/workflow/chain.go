package workflow

import (
	"path/filepath"
	"strings"
)

// Chain is the immutable list of workflow paths from the root workflow down
// to the current one. Extend returns a new chain and never touches the
// receiver's backing array, so siblings cannot observe each other.
type Chain struct {
	paths []string
}

// NewChain builds a chain from cleaned copies of paths.
func NewChain(paths ...string) Chain {
	c := Chain{paths: make([]string, 0, len(paths))}
	for _, p := range paths {
		if p != "" {
			c.paths = append(c.paths, filepath.Clean(p))
		}
	}
	return c
}

// ChainFromValue reads a chain stored in workflow variables.
func ChainFromValue(v any) Chain {
	switch val := v.(type) {
	case []string:
		return NewChain(val...)
	case []any:
		paths := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				paths = append(paths, s)
			}
		}
		return NewChain(paths...)
	case string:
		return NewChain(val)
	}
	return Chain{}
}

// Contains reports whether path is already an ancestor.
func (c Chain) Contains(path string) bool {
	path = filepath.Clean(path)
	for _, p := range c.paths {
		if p == path {
			return true
		}
	}
	return false
}

// Extend returns a new chain with path appended.
func (c Chain) Extend(path string) Chain {
	next := make([]string, len(c.paths), len(c.paths)+1)
	copy(next, c.paths)
	return Chain{paths: append(next, filepath.Clean(path))}
}

// Len returns the number of paths.
func (c Chain) Len() int {
	return len(c.paths)
}

// Paths returns a copy of the paths, root first.
func (c Chain) Paths() []string {
	return append([]string(nil), c.paths...)
}

// Value returns the chain in the form stored in workflow variables.
func (c Chain) Value() []any {
	out := make([]any, len(c.paths))
	for i, p := range c.paths {
		out[i] = p
	}
	return out
}

func (c Chain) String() string {
	return strings.Join(c.paths, " -> ")
}

// ResolveRelative resolves p against the directory of the file that
// references it. Absolute paths are only cleaned.
func ResolveRelative(definingFile, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(filepath.Dir(definingFile), p)
}
