package mec

import "fmt"

// State is a MEC session state.
type State int

const (
	StateListening State = iota
	StateSubscribing
	StateSubscribed
	StateNotified
	StateResubscribing
	StateNotifiedLeaving
	StateDone
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateNotified:
		return "NOTIFIED"
	case StateResubscribing:
		return "RESUBSCRIBING"
	case StateNotifiedLeaving:
		return "NOTIFIED_LEAVING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeStopped   Outcome = "stopped"
	OutcomeCancelled Outcome = "cancelled"
)
