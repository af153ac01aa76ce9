package session

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions lists the allowed moves. No state is revisited.
var validTransitions = map[State]map[State]bool{
	StateUninitialized: {
		StateHandshaking: true,
		StateClosed:      true,
	},
	StateHandshaking: {
		StateActive: true,
		StateClosed: true,
	},
	StateActive: {
		StateClosed: true,
	},
}

// ValidTransition reports whether a session may move from one state to another.
func ValidTransition(from, to State) bool {
	return validTransitions[from][to]
}
