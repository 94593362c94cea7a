package session

import "fmt"

// State is a session lifecycle state.
type State int

const (
	StateCreated State = iota
	StatePopulated
	StateEvaluated
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePopulated:
		return "populated"
	case StateEvaluated:
		return "evaluated"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
