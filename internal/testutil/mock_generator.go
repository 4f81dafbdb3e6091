package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// GeneratorBehavior configures the script written by GeneratorScript.
type GeneratorBehavior struct {
	// Prefix is printed before the prompt.
	Prefix string
	// Upper upper-cases the prompt.
	Upper bool
	// EchoModel prints "$STORYFLOW_MODEL: " first.
	EchoModel bool

	// ExitCode, when non-zero, makes the script write Stderr and fail.
	ExitCode int
	Stderr   string

	// StartedFile is touched as soon as the script runs.
	StartedFile string
	// HoldFile makes the script wait while the file exists, which lets a
	// test interrupt a run in the middle of a reflect step.
	HoldFile string
}

// GeneratorScript writes a shell script that stands in for a text
// generator command. It reads the prompt from stdin and prints it back,
// shaped by behavior. The returned path can be used as reflect.command.
func GeneratorScript(t *testing.T, dir string, behavior GeneratorBehavior) string {
	t.Helper()

	script := fmt.Sprintf(`#!/bin/sh
# Fake text generator for tests.

PREFIX=%s
UPPER=%t
ECHO_MODEL=%t
EXIT_CODE=%d
STDERR=%s
STARTED=%s
HOLD=%s

PROMPT=$(cat)

if [ -n "$STARTED" ]; then
    touch "$STARTED"
fi

while [ -n "$HOLD" ] && [ -e "$HOLD" ]; do
    sleep 0.05
done

if [ "$EXIT_CODE" -ne 0 ]; then
    printf '%%s' "$STDERR" >&2
    exit "$EXIT_CODE"
fi

if [ "$UPPER" = true ]; then
    PROMPT=$(printf '%%s' "$PROMPT" | tr '[:lower:]' '[:upper:]')
fi

if [ "$ECHO_MODEL" = true ]; then
    printf '%%s: ' "$STORYFLOW_MODEL"
fi
printf '%%s%%s\n' "$PREFIX" "$PROMPT"
`,
		shellQuote(behavior.Prefix),
		behavior.Upper,
		behavior.EchoModel,
		behavior.ExitCode,
		shellQuote(behavior.Stderr),
		shellQuote(behavior.StartedFile),
		shellQuote(behavior.HoldFile),
	)

	path := filepath.Join(dir, "fake-generator.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to create generator script: %v", err)
	}
	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
