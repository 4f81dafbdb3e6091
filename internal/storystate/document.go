package storystate

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// Story is one entry on the board.
type Story struct {
	ID     string
	Title  string
	State  State
	Points *int
}

// HasPoints returns true if the story carries an estimate.
func (s Story) HasPoints() bool {
	return s.Points != nil
}

// String renders the story in document form, without bullet.
func (s Story) String() string {
	line := "[" + s.ID + "]"
	if s.Title != "" {
		line += " " + s.Title
	}
	if s.Points != nil {
		line += fmt.Sprintf(" [Points: %d]", *s.Points)
	}
	return line
}

// Document is a parsed status document. Lines before the first section
// heading are kept verbatim as the preamble.
type Document struct {
	Preamble []string
	Sections map[State][]Story
}

// NewDocument returns an empty board.
func NewDocument() *Document {
	d := &Document{Sections: make(map[State][]Story, len(States))}
	for _, s := range States {
		d.Sections[s] = []Story{}
	}
	return d
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := NewDocument()
	c.Preamble = append([]string(nil), d.Preamble...)
	for _, s := range States {
		for _, story := range d.Sections[s] {
			if story.Points != nil {
				p := *story.Points
				story.Points = &p
			}
			c.Sections[s] = append(c.Sections[s], story)
		}
	}
	return c
}

// find returns the state and index of id.
func (d *Document) find(id string) (State, int, bool) {
	id = normalizeID(id)
	for _, s := range States {
		for i, story := range d.Sections[s] {
			if normalizeID(story.ID) == id {
				return s, i, true
			}
		}
	}
	return "", -1, false
}

// normalizeID applies NFKC so full-width and compatibility forms of an ID
// match their plain spelling.
func normalizeID(id string) string {
	return norm.NFKC.String(strings.TrimSpace(id))
}

var (
	entryPattern  = regexp.MustCompile(`^(?:[-*]\s+)?\[([^\]]+)\]\s*(.*?)\s*$`)
	pointsPattern = regexp.MustCompile(`\s*\[Points:\s*(\d+)\]\s*$`)
)

// parseHeading recognizes "## TODO", "# In Progress", "BACKLOG:" and bare tags.
func parseHeading(line string) (State, bool) {
	h := strings.TrimLeft(line, "#")
	h = strings.TrimSuffix(strings.TrimSpace(h), ":")
	return ParseState(h)
}

func parseEntry(line string) (Story, bool) {
	m := entryPattern.FindStringSubmatch(line)
	if m == nil {
		return Story{}, false
	}
	story := Story{ID: strings.TrimSpace(m[1]), Title: m[2]}
	if pm := pointsPattern.FindStringSubmatchIndex(story.Title); pm != nil {
		n, err := strconv.Atoi(story.Title[pm[2]:pm[3]])
		if err == nil {
			story.Points = &n
			story.Title = story.Title[:pm[0]]
		}
	}
	story.Title = strings.TrimSpace(story.Title)
	return story, true
}

// Parse reads a status document. Duplicate IDs, entries before the first
// heading and unrecognized lines inside sections are errors.
func Parse(text string) (*Document, error) {
	doc := NewDocument()
	var current State
	seen := make(map[string]int)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := strings.TrimSpace(raw)

		if st, ok := parseHeading(line); ok && line != "" {
			current = st
			continue
		}
		if current == "" {
			if _, isEntry := parseEntry(line); isEntry {
				return nil, parseError(lineNo, "story entry outside a section", line)
			}
			doc.Preamble = append(doc.Preamble, raw)
			continue
		}
		if line == "" {
			continue
		}
		story, ok := parseEntry(line)
		if !ok {
			return nil, parseError(lineNo, "unrecognized line", line)
		}
		if first, dup := seen[normalizeID(story.ID)]; dup {
			return nil, parseError(lineNo, fmt.Sprintf("duplicate story ID %q (first on line %d)", story.ID, first), line)
		}
		seen[normalizeID(story.ID)] = lineNo
		story.State = current
		doc.Sections[current] = append(doc.Sections[current], story)
	}
	if err := sc.Err(); err != nil {
		return nil, flowerrors.Wrap(flowerrors.CodeStoryParse, "reading status document", err)
	}

	// Trailing blank preamble lines belong to the separator, not the text.
	for len(doc.Preamble) > 0 && strings.TrimSpace(doc.Preamble[len(doc.Preamble)-1]) == "" {
		doc.Preamble = doc.Preamble[:len(doc.Preamble)-1]
	}
	return doc, nil
}

func parseError(line int, reason, text string) *flowerrors.FlowError {
	return flowerrors.Newf(flowerrors.CodeStoryParse, "status document line %d: %s", line, reason).
		WithDetail("line", line).
		WithDetail("text", text)
}

// Format serializes the document canonically: preamble, then one "## TAG"
// section per state in board order.
func Format(doc *Document) string {
	var b strings.Builder
	if len(doc.Preamble) > 0 {
		b.WriteString(strings.Join(doc.Preamble, "\n"))
		b.WriteString("\n\n")
	}
	for i, s := range States {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + string(s) + "\n")
		for _, story := range doc.Sections[s] {
			b.WriteString("- " + story.String() + "\n")
		}
	}
	return b.String()
}
