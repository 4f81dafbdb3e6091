package orchestrator

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewInstanceID creates a unique, time-sortable identifier for one
// workflow instance.
// Example: 01JA2ZB7Q4X6M1T0R3N8C5D9FE
func NewInstanceID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// StateKey derives the persistence key for a workflow name. Names that
// differ only in case, width or punctuation share a key.
// Example: "Story Points (v2)" -> "story-points-v2"
func StateKey(name string) string {
	s := cases.Fold().String(norm.NFKC.String(name))

	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	key := strings.TrimRight(b.String(), "-")
	if key == "" {
		return "workflow"
	}
	return key
}

// ChildStateKey derives the key of a child started by a parent step.
// Format: {parent}--s{step}-{position}-{child slug}
// Example: sprint--s3-0-review
func ChildStateKey(parentKey string, stepIndex, position int, childPath string) string {
	base := strings.TrimSuffix(filepath.Base(childPath), filepath.Ext(childPath))
	return fmt.Sprintf("%s--s%d-%d-%s", parentKey, stepIndex, position, StateKey(base))
}
