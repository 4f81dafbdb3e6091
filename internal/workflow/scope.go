package workflow

// Scope represents the source hierarchy for workflow resolution.
type Scope string

const (
	// ScopeProject searches project -> user.
	// This is the default behavior.
	ScopeProject Scope = "project"

	// ScopeUser searches user only (never project).
	// Used to run a user-level workflow without project shadowing.
	ScopeUser Scope = "user"
)

// Valid returns true if this is a recognized scope or empty (unspecified).
func (s Scope) Valid() bool {
	switch s {
	case ScopeProject, ScopeUser, "":
		return true
	}
	return false
}

// SearchesProject returns true if this scope includes project workflows.
func (s Scope) SearchesProject() bool {
	return s == "" || s == ScopeProject
}

// SearchesUser returns true if this scope includes user workflows.
func (s Scope) SearchesUser() bool {
	return s == "" || s == ScopeProject || s == ScopeUser
}
