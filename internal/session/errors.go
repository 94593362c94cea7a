package session

import (
	"errors"
	"fmt"
)

// StateError reports a session operation called in the wrong state.
type StateError struct {
	Op      string
	State   State
	Allowed []State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s (want %v)", e.Op, e.State, e.Allowed)
}

// IsStateError returns true if err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// InputError reports an input fact the rule set cannot accept: the wrong
// type, or a missing or mistyped declared field.
type InputError struct {
	Type    string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s input: field %q: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s input: %s", e.Type, e.Message)
}

// IsInputError returns true if err is an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
