// Package task tracks the lifecycle and progress of pipeline runs.
package task

import "fmt"

// State of a pipeline task.
type State string

const (
	StateCreated       State = "CREATED"
	StateStage1Running State = "STAGE1_RUNNING"
	StateStage1Done    State = "STAGE1_DONE"
	StateStage2Running State = "STAGE2_RUNNING"
	StateStage2Done    State = "STAGE2_DONE"
	StateStage3Running State = "STAGE3_RUNNING"
	StateCompleted     State = "COMPLETED"
	StateCancelled     State = "CANCELLED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Running reports whether a stage is executing.
func (s State) Running() bool {
	return s == StateStage1Running || s == StateStage2Running || s == StateStage3Running
}

// transitions lists the forward edges. CANCELLED and FAILED are reachable from every
// non-terminal state and are not repeated here. The DONE to COMPLETED edges cover runs whose
// gate selected no file or whose analysis produced no finding.
var transitions = map[State][]State{
	StateCreated:       {StateStage1Running},
	StateStage1Running: {StateStage1Done},
	StateStage1Done:    {StateStage2Running, StateCompleted},
	StateStage2Running: {StateStage2Done},
	StateStage2Done:    {StateStage3Running, StateCompleted},
	StateStage3Running: {StateCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for an illegal state change.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal task transition %s -> %s", e.From, e.To)
}
