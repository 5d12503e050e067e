package orchestrator

import "time"

// State is a step of the dispatch state machine.
type State string

const (
	// StateDispatching issues one upstream attempt.
	StateDispatching State = "dispatching"
	// StateBackingOff waits before the next attempt.
	StateBackingOff State = "backing_off"
	// StateRePruning shrinks the payload after a context-length rejection.
	// It does not use up an attempt.
	StateRePruning State = "re_pruning"
	// StateDone holds a successful reply.
	StateDone State = "done"
	// StateFailed holds the surfaced error.
	StateFailed State = "failed"
)

// Transition describes one move of the state machine.
type Transition struct {
	Tier    string
	From    State
	To      State
	Attempt int
	// Delay is set when entering StateBackingOff.
	Delay time.Duration
	Err   error
}

// Observer receives dispatch state transitions.
type Observer interface {
	// OnTransition is called after every state change.
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}
