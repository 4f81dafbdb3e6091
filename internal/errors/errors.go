// Package errors provides structured error types for storyflow.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error codes for storyflow operations.
const (
	// Load errors (malformed workflow definitions, never retried)
	CodeLoadRead          = "LOAD_001" // Definition could not be read
	CodeLoadParse         = "LOAD_002" // Definition is not valid YAML/TOML
	CodeLoadMissingField  = "LOAD_003" // Required field missing
	CodeLoadUnknownAction = "LOAD_004" // Step action not recognized
	CodeLoadInvalidField  = "LOAD_005" // Field present but invalid

	// Condition errors
	CodeConditionSyntax     = "COND_001" // Expression does not parse
	CodeConditionForbidden  = "COND_002" // Control-flow or scope-escape token
	CodeConditionUnresolved = "COND_003" // Unbound variable in strict mode
	CodeConditionNotBoolean = "COND_004" // Expression result is not a boolean
	CodeConditionEval       = "COND_005" // Operand types do not fit the operator

	// Validation errors
	CodeValidationFailed = "VALID_001" // validate step condition was false

	// Cycle errors
	CodeCycleDetected = "CYCLE_001" // Sub-workflow already in the ancestor chain
	CodeDepthExceeded = "CYCLE_002" // Nesting deeper than the configured limit

	// Step execution errors (pointer not advanced, safe to retry)
	CodeStepFailed         = "STEP_001" // Action failed
	CodeStepNoCollaborator = "STEP_002" // Required collaborator not configured
	CodeStepInput          = "STEP_003" // Elicited input rejected
	CodeStepChildFailed    = "STEP_004" // Sub-workflow child failed
	CodeStepCancelled      = "STEP_005" // Context cancelled between steps

	// Routing errors
	CodeRouteInvalidLevel = "ROUTE_001" // Level missing, unparseable, or out of range
	CodeRouteNoWorkflows  = "ROUTE_002" // Neither level_N nor default configured
	CodeRouteChildFailed  = "ROUTE_003" // A routed child failed, batch aborted

	// Story state machine errors (document left intact)
	CodeStoryUnknown      = "STORY_001" // Story ID not in document
	CodeStoryNotAllowed   = "STORY_002" // Transition edge not allowed
	CodeStoryWIPLimit     = "STORY_003" // Target state at WIP limit
	CodeStoryParse        = "STORY_004" // Status document malformed
	CodeStoryUnknownState = "STORY_005" // State tag not recognized

	// Persisted state errors
	CodeStateNotFound = "STATE_001" // No record for key
	CodeStateInvalid  = "STATE_002" // Record failed structural validation
	CodeStateLocked   = "STATE_003" // Instance owned by another executor

	// IO errors
	CodeIOFileNotFound = "IO_001" // File not found
	CodeIOReadError    = "IO_004" // Read error
	CodeIOWriteError   = "IO_005" // Write error
)

// Kind groups error codes into the categories callers act on.
type Kind string

const (
	KindLoad       Kind = "load_error"
	KindValidation Kind = "validation_failure"
	KindCycle      Kind = "cycle_detected"
	KindStep       Kind = "step_execution_error"
	KindRouting    Kind = "routing_error"
	KindTransition Kind = "transition_error"
	KindState      Kind = "state_error"
	KindIO         Kind = "io_error"
	KindUnknown    Kind = "unknown"
)

// FlowError is the structured error type for storyflow operations.
type FlowError struct {
	Code    string         `json:"code"`              // Error code (e.g., "LOAD_003")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (file, field, step, chain...)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Kind returns the category of this error's code.
func (e *FlowError) Kind() Kind {
	return kindOfCode(e.Code)
}

// WithDetail adds a detail to the error.
func (e *FlowError) WithDetail(key string, value any) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	type alias FlowError
	aux := struct {
		*alias
		Kind     Kind   `json:"kind"`
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
		Kind:  e.Kind(),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new FlowError.
func New(code, message string) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new FlowError with formatted message.
func Newf(code, format string, args ...any) *FlowError {
	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a FlowError.
func Wrap(code, message string, err error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted FlowError.
func Wrapf(code string, err error, format string, args ...any) *FlowError {
	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Load Errors ---

// LoadMissingField creates an error for a required definition field.
// where is the location inside the file, e.g. `steps[2] ("ask")`.
func LoadMissingField(file, where, field string) *FlowError {
	msg := fmt.Sprintf("%s: %q is required", file, field)
	if where != "" {
		msg = fmt.Sprintf("%s: %s: %q is required", file, where, field)
	}
	return New(CodeLoadMissingField, msg).
		WithDetail("file", file).
		WithDetail("field", field)
}

// LoadInvalidField creates an error for a definition field with a bad value.
func LoadInvalidField(file, where, field, reason string) *FlowError {
	msg := fmt.Sprintf("%s: %q %s", file, field, reason)
	if where != "" {
		msg = fmt.Sprintf("%s: %s: %q %s", file, where, field, reason)
	}
	return New(CodeLoadInvalidField, msg).
		WithDetail("file", file).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// LoadUnknownAction creates an error for an unrecognized step action.
func LoadUnknownAction(file, where, action string) *FlowError {
	return Newf(CodeLoadUnknownAction, "%s: %s: unknown action %q", file, where, action).
		WithDetail("file", file).
		WithDetail("field", "action").
		WithDetail("action", action)
}

// LoadParseError creates an error for a definition that does not decode.
func LoadParseError(file string, err error) *FlowError {
	return Wrapf(CodeLoadParse, err, "%s: failed to parse workflow definition", file).
		WithDetail("file", file)
}

// --- Condition Errors ---

// ConditionSyntax creates an error for an expression that does not parse.
func ConditionSyntax(expr string, pos int, reason string) *FlowError {
	return Newf(CodeConditionSyntax, "invalid condition at offset %d: %s", pos, reason).
		WithDetail("condition", expr).
		WithDetail("offset", pos)
}

// ConditionForbidden creates an error for a rejected token.
func ConditionForbidden(expr, token string) *FlowError {
	return Newf(CodeConditionForbidden, "condition contains forbidden token %q", token).
		WithDetail("condition", expr).
		WithDetail("token", token)
}

// ConditionUnresolved creates an error for an unbound variable in strict mode.
func ConditionUnresolved(expr, name string) *FlowError {
	return Newf(CodeConditionUnresolved, "condition references undefined variable %q", name).
		WithDetail("condition", expr).
		WithDetail("variable", name)
}

// ConditionNotBoolean creates an error for a non-boolean result.
func ConditionNotBoolean(expr, got string) *FlowError {
	return Newf(CodeConditionNotBoolean, "condition must evaluate to a boolean, got %s", got).
		WithDetail("condition", expr).
		WithDetail("type", got)
}

// --- Cycle Errors ---

// CycleDetected creates an error naming the full ancestor chain.
func CycleDetected(chain []string) *FlowError {
	return Newf(CodeCycleDetected, "cycle detected in sub-workflows: %s", strings.Join(chain, " -> ")).
		WithDetail("chain", chain)
}

// DepthExceeded creates an error for nesting beyond the limit.
func DepthExceeded(depth, limit int, chain []string) *FlowError {
	return Newf(CodeDepthExceeded, "sub-workflow depth limit exceeded: %d > %d", depth, limit).
		WithDetail("depth", depth).
		WithDetail("limit", limit).
		WithDetail("chain", chain)
}

// --- Step Errors ---

// StepFailed creates an error for a failed step action.
func StepFailed(step, action string, err error) *FlowError {
	return Wrapf(CodeStepFailed, err, "step %q (%s) failed", step, action).
		WithDetail("step", step).
		WithDetail("action", action)
}

// StepNoCollaborator creates an error for a missing injected collaborator.
func StepNoCollaborator(step, collaborator string) *FlowError {
	return Newf(CodeStepNoCollaborator, "step %q requires a %s but none is configured", step, collaborator).
		WithDetail("step", step).
		WithDetail("collaborator", collaborator)
}

// --- Routing Errors ---

// RouteInvalidLevel creates an error for a level that cannot be resolved.
func RouteInvalidLevel(variable string, value any, reason string) *FlowError {
	return Newf(CodeRouteInvalidLevel, "cannot resolve complexity level from %s=%v: %s", variable, value, reason).
		WithDetail("variable", variable).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// RouteNoWorkflows creates an error when neither level_N nor default exists.
func RouteNoWorkflows(level int) *FlowError {
	return Newf(CodeRouteNoWorkflows, "no workflows configured for level_%d and no default route", level).
		WithDetail("level", level)
}

// --- Story Errors ---

// StoryUnknown creates an error for a story ID not in the document.
func StoryUnknown(id string) *FlowError {
	return Newf(CodeStoryUnknown, "story not found: %s", id).
		WithDetail("story_id", id)
}

// StoryNotAllowed creates an error for a disallowed transition edge.
func StoryNotAllowed(id, from, to string) *FlowError {
	return Newf(CodeStoryNotAllowed, "transition not allowed for story %s: %s -> %s", id, from, to).
		WithDetail("story_id", id).
		WithDetail("from", from).
		WithDetail("to", to)
}

// StoryWIPLimit creates an error for a transition into a full state.
func StoryWIPLimit(id, to string, limit int) *FlowError {
	return Newf(CodeStoryWIPLimit, "cannot move story %s to %s: WIP limit of %d reached", id, to, limit).
		WithDetail("story_id", id).
		WithDetail("to", to).
		WithDetail("limit", limit)
}

// --- IO Errors ---

// IOFileNotFound creates an error for missing file.
func IOFileNotFound(path string) *FlowError {
	return Newf(CodeIOFileNotFound, "file not found: %s", path).
		WithDetail("path", path)
}

// IOReadError creates an error for read failures.
func IOReadError(path string, err error) *FlowError {
	return Wrap(CodeIOReadError, "failed to read file", err).
		WithDetail("path", path)
}

// IOWriteError creates an error for write failures.
func IOWriteError(path string, err error) *FlowError {
	return Wrap(CodeIOWriteError, "failed to write file", err).
		WithDetail("path", path)
}

// HasCode checks if an error is a FlowError with the given code.
// It handles wrapped errors by unwrapping to find a FlowError.
func HasCode(err error, code string) bool {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		return ferr.Code == code
	}
	return false
}

// Code returns the error code if err is a FlowError, empty string otherwise.
// It handles wrapped errors by unwrapping to find a FlowError.
func Code(err error) string {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	return ""
}

// KindOf returns the category of the outermost FlowError in err's chain.
func KindOf(err error) Kind {
	return kindOfCode(Code(err))
}

// Contains reports whether any FlowError in err's chain carries code.
// Unlike HasCode it keeps unwrapping past the first FlowError, so a cycle
// error wrapped in a child failure is still found.
func Contains(err error, code string) bool {
	for err != nil {
		var ferr *FlowError
		if !errors.As(err, &ferr) {
			return false
		}
		if ferr.Code == code {
			return true
		}
		err = ferr.Cause
	}
	return false
}

func kindOfCode(code string) Kind {
	prefix, _, _ := strings.Cut(code, "_")
	switch prefix {
	case "LOAD":
		return KindLoad
	case "COND", "VALID":
		return KindValidation
	case "CYCLE":
		return KindCycle
	case "STEP":
		return KindStep
	case "ROUTE":
		return KindRouting
	case "STORY":
		return KindTransition
	case "STATE":
		return KindState
	case "IO":
		return KindIO
	}
	return KindUnknown
}
