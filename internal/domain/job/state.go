package job

import "fmt"

// State is the lifecycle state of a job.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateCompleted
	StateCrashed
	StateTerminated
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StatePending:    "pending",
	StateProcessing: "processing",
	StateCompleted:  "completed",
	StateCrashed:    "crashed",
	StateTerminated: "terminated",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s != StatePending && s != StateProcessing
}

// Succeeded reports whether s is the successful terminal state.
func (s State) Succeeded() bool {
	return s == StateCompleted
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateProcessing || to == StateCancelled
	case StateProcessing:
		return to.Terminal()
	default:
		return false
	}
}
