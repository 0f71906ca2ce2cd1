package ue

import "fmt"

// State is a UE client state.
type State int

const (
	StateInit State = iota
	StateRegistered
	StateMonitoring
	StateEntered
	StateLeft
	StateTerminated
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRegistered:
		return "REGISTERED"
	case StateMonitoring:
		return "MONITORING"
	case StateEntered:
		return "ENTERED"
	case StateLeft:
		return "LEFT"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
