package engine

import "fmt"

// InvalidTransitionError reports a lifecycle action attempted from a state
// that does not permit it. No mutation happens.
type InvalidTransitionError struct {
	SprintID string
	From     string
	Action   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s sprint in state %s", e.Action, e.From)
}

// ScopeLockedError reports a membership mutation rejected wholesale
// because the sprint's scope is locked.
type ScopeLockedError struct {
	SprintID string
	Reason   string
}

func (e ScopeLockedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("sprint scope is locked: %s", e.Reason)
	}
	return "sprint scope is locked"
}

// ValidationError reports missing or malformed input, detected before any
// mutation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

func validationErr(field, msg string) ValidationError {
	return ValidationError{Field: field, Msg: msg}
}
