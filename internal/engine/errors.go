package engine

import "fmt"

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports that a concurrent actor won a race for the same resource.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

// StateError reports an operation the entity's current state does not allow.
type StateError struct {
	Current string
	Reason  string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s (current state: %s)", e.Reason, e.Current)
}
