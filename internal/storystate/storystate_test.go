package storystate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
)

const board = `# Sprint board
Team notes stay here.

## BACKLOG
- [S1] Login page [Points: 3]
- [S2] Password reset

## TODO
- [S3] Session timeout [Points: 2]

## IN_PROGRESS
- [S4] Audit log

## DONE
- [S5] Project setup [Points: 1]
`

func ids(stories []Story) []string {
	out := make([]string, len(stories))
	for i, s := range stories {
		out[i] = s.ID
	}
	return out
}

func loadBoard(t *testing.T) (*Machine, storage.Storage) {
	t.Helper()
	st := storage.NewMemory()
	require.NoError(t, st.WriteFile(context.Background(), "/docs/stories.md", []byte(board)))
	m, err := Load(context.Background(), st, "/docs/stories.md")
	require.NoError(t, err)
	return m, st
}

func TestParse(t *testing.T) {
	doc, err := Parse(board)
	require.NoError(t, err)

	assert.Equal(t, []string{"# Sprint board", "Team notes stay here."}, doc.Preamble)
	assert.Equal(t, []string{"S1", "S2"}, ids(doc.Sections[Backlog]))
	assert.Equal(t, []string{"S3"}, ids(doc.Sections[Todo]))
	assert.Equal(t, []string{"S4"}, ids(doc.Sections[InProgress]))
	assert.Equal(t, []string{"S5"}, ids(doc.Sections[Done]))

	s1 := doc.Sections[Backlog][0]
	assert.Equal(t, "Login page", s1.Title)
	require.True(t, s1.HasPoints())
	assert.Equal(t, 3, *s1.Points)
	assert.Equal(t, Backlog, s1.State)
	assert.False(t, doc.Sections[Backlog][1].HasPoints())
}

func TestParse_HeadingVariants(t *testing.T) {
	text := "BACKLOG:\n* [A] first\n# In Progress\n[B] second\n## todo\n## Done:\n"
	doc, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(doc.Sections[Backlog]))
	assert.Equal(t, []string{"B"}, ids(doc.Sections[InProgress]))
	assert.Empty(t, doc.Sections[Todo])
	assert.Empty(t, doc.Preamble)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"entry before heading", "- [S1] Orphan\n## BACKLOG\n"},
		{"duplicate id", "## BACKLOG\n- [S1] a\n## DONE\n- [S1] b\n"},
		{"garbage in section", "## TODO\nnot a story\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.True(t, flowerrors.HasCode(err, flowerrors.CodeStoryParse), "got %v", err)
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	doc, err := Parse(board)
	require.NoError(t, err)

	out := Format(doc)
	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, out, Format(again))
	assert.Equal(t, board, out)
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in   string
		want State
		ok   bool
	}{
		{"BACKLOG", Backlog, true},
		{"todo", Todo, true},
		{"To Do", Todo, true},
		{"In Progress", InProgress, true},
		{"in-progress", InProgress, true},
		{"IN_PROGRESS", InProgress, true},
		{" done ", Done, true},
		{"blocked", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseState(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestState_CanTransitionTo(t *testing.T) {
	allowed := map[[2]State]bool{
		{Backlog, Todo}:    true,
		{Todo, Backlog}:    true,
		{Todo, InProgress}: true,
		{InProgress, Done}: true,
	}
	for _, from := range States {
		for _, to := range States {
			assert.Equal(t, allowed[[2]State{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_BoardScenario(t *testing.T) {
	ctx := context.Background()
	m, st := loadBoard(t)

	require.NoError(t, m.Transition(ctx, "S3", Backlog))
	assert.Empty(t, m.List(Todo))
	assert.Equal(t, []string{"S1", "S2", "S3"}, ids(m.List(Backlog)))

	require.NoError(t, m.Transition(ctx, "S1", Todo))
	assert.Equal(t, []string{"S1"}, ids(m.List(Todo)))

	err := m.Transition(ctx, "S1", Done)
	require.Error(t, err)
	assert.True(t, flowerrors.HasCode(err, flowerrors.CodeStoryNotAllowed))

	// Persisted form matches the in-memory board.
	data, err := st.ReadFile(ctx, "/docs/stories.md")
	require.NoError(t, err)
	reloaded, err := Parse(string(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, ids(reloaded.Sections[Todo]))
	assert.Equal(t, []string{"S2", "S3"}, ids(reloaded.Sections[Backlog]))
	assert.Equal(t, []string{"# Sprint board", "Team notes stay here."}, reloaded.Preamble)
}

func TestBacklogToDoneNeverAllowed(t *testing.T) {
	m, _ := loadBoard(t)
	assert.False(t, m.CanTransition("S1", Done))
	err := m.Check("S1", Done)
	assert.True(t, flowerrors.HasCode(err, flowerrors.CodeStoryNotAllowed))
}

func TestTransition_Errors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		target State
		code   string
	}{
		{"unknown story", "S99", Todo, flowerrors.CodeStoryUnknown},
		{"disallowed edge", "S5", Backlog, flowerrors.CodeStoryNotAllowed},
		{"todo at wip limit", "S1", Todo, flowerrors.CodeStoryWIPLimit},
		{"in progress at wip limit", "S3", InProgress, flowerrors.CodeStoryWIPLimit},
		{"unknown state", "S1", State("BLOCKED"), flowerrors.CodeStoryUnknownState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st := loadBoard(t)
			err := m.Transition(context.Background(), tt.id, tt.target)
			require.Error(t, err)
			assert.True(t, flowerrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, flowerrors.KindTransition, flowerrors.KindOf(err))

			// Document unchanged in memory and on disk.
			assert.Equal(t, board, Format(m.Document()))
			data, err := st.ReadFile(context.Background(), "/docs/stories.md")
			require.NoError(t, err)
			assert.Equal(t, board, string(data))
		})
	}
}

func TestValidate(t *testing.T) {
	m, _ := loadBoard(t)
	assert.Empty(t, m.Validate())

	doc, err := Parse("## TODO\n- [A] one\n- [B] two\n## IN_PROGRESS\n- [C] three\n")
	require.NoError(t, err)
	m = New(doc, nil, "")
	violations := m.Validate()
	require.Len(t, violations, 1)
	assert.Equal(t, Todo, violations[0].State)
	assert.Equal(t, 2, violations[0].Count)
	assert.Equal(t, []string{"A", "B"}, violations[0].IDs)

	// Validate reports only.
	assert.Len(t, m.List(Todo), 2)
}

func TestQueries(t *testing.T) {
	m, _ := loadBoard(t)

	s, ok := m.Story("S4")
	require.True(t, ok)
	assert.Equal(t, InProgress, s.State)

	cur, ok := m.Current(Todo)
	require.True(t, ok)
	assert.Equal(t, "S3", cur.ID)

	_, ok = m.Story("nope")
	assert.False(t, ok)

	// Full-width digits normalize to the plain ID.
	s, ok = m.Story("S１")
	require.True(t, ok)
	assert.Equal(t, "S1", s.ID)
}

func TestTransition_InMemory(t *testing.T) {
	doc, err := Parse(board)
	require.NoError(t, err)
	m := New(doc, nil, "")
	require.NoError(t, m.Transition(context.Background(), "S4", Done))
	assert.Equal(t, []string{"S5", "S4"}, ids(m.List(Done)))
}
