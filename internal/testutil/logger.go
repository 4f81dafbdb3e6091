package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogger captures structured logs for assertion in tests.
type TestLogger struct {
	Logger *slog.Logger

	mu      sync.Mutex
	entries []LogEntry
	buffer  bytes.Buffer
}

// LogEntry represents a captured log entry. Attribute keys include any
// group prefix, e.g. "step.name".
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// NewTestLogger creates a logger that captures every entry at debug and
// above. The raw JSON output is also kept and written to t.Log when the
// test fails.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	tl := &TestLogger{}
	tl.Logger = slog.New(&captureHandler{
		tl:      tl,
		handler: slog.NewJSONHandler(&tl.buffer, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured logs:\n%s", tl.Output())
		}
	})
	return tl
}

// captureHandler records entries and forwards them to a JSON handler.
type captureHandler struct {
	tl      *TestLogger
	handler slog.Handler
	attrs   []slog.Attr
	group   string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		entry.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.tl.mu.Lock()
	h.tl.entries = append(h.tl.entries, entry)
	err := h.handler.Handle(ctx, r)
	h.tl.mu.Unlock()
	return err
}

func (h *captureHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &captureHandler{tl: h.tl, handler: h.handler.WithAttrs(attrs), attrs: merged, group: h.group}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{tl: h.tl, handler: h.handler.WithGroup(name), attrs: h.attrs, group: h.key(name)}
}

// Entries returns a copy of all captured entries.
func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Find returns the entries whose message contains substr.
func (l *TestLogger) Find(substr string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

// CountLevel returns the number of entries at level.
func (l *TestLogger) CountLevel(level slog.Level) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Output returns the raw JSON lines.
func (l *TestLogger) Output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.String()
}

// AssertContains fails unless some entry's message contains msg.
func (l *TestLogger) AssertContains(t *testing.T, msg string) {
	t.Helper()
	if len(l.Find(msg)) == 0 {
		t.Errorf("expected a log entry containing %q", msg)
	}
}

// AssertNotContains fails if any entry's message contains msg.
func (l *TestLogger) AssertNotContains(t *testing.T, msg string) {
	t.Helper()
	if n := len(l.Find(msg)); n > 0 {
		t.Errorf("expected no log entry containing %q, found %d", msg, n)
	}
}

// AssertAttr fails unless an entry whose message contains msg carries
// key=value. Values compare by their printed form, so 2 matches int64(2).
func (l *TestLogger) AssertAttr(t *testing.T, msg, key string, value any) {
	t.Helper()
	for _, e := range l.Find(msg) {
		if v, ok := e.Attrs[key]; ok && fmt.Sprint(v) == fmt.Sprint(value) {
			return
		}
	}
	t.Errorf("expected a %q entry with %s=%v", msg, key, value)
}

// AssertNoErrors fails if anything was logged at error level.
func (l *TestLogger) AssertNoErrors(t *testing.T) {
	t.Helper()
	if n := l.CountLevel(slog.LevelError); n > 0 {
		t.Errorf("expected no error logs, got %d", n)
	}
}
