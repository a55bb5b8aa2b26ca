// Package session holds the pieces shared by the recorder and the player:
// the per-component state machine and the error taxonomy.
package session

import (
	"fmt"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a capture or playback component.
type State int

const (
	// StateIdle indicates nothing is live.
	StateIdle State = iota
	// StateStarting indicates a start is in flight.
	StateStarting
	// StateActive indicates a session is live.
	StateActive
	// StatePaused indicates a live session is paused.
	StatePaused
	// StateStopping indicates a stop is in flight.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transitions maps each state to the states it may move to.
type Transitions map[State][]State

// RecorderTransitions is the capture lifecycle.
var RecorderTransitions = Transitions{
	StateIdle:     {StateStarting},
	StateStarting: {StateActive, StateIdle},
	StateActive:   {StateStopping},
	StateStopping: {StateIdle},
}

// PlayerTransitions is the playback lifecycle. A live stream may be
// dropped straight to idle when it completes or is superseded.
var PlayerTransitions = Transitions{
	StateIdle:     {StateStarting},
	StateStarting: {StateActive, StateIdle, StateStarting},
	StateActive:   {StatePaused, StateStopping, StateIdle, StateStarting},
	StatePaused:   {StateActive, StateStopping, StateIdle, StateStarting},
	StateStopping: {StateIdle, StateStarting},
}

// Machine is a small state machine. It is not safe for concurrent use; the
// owning component guards it with its own mutex.
type Machine struct {
	current     State
	transitions Transitions
}

// NewMachine creates a machine in StateIdle.
func NewMachine(t Transitions) *Machine {
	return &Machine{
		current:     StateIdle,
		transitions: t,
	}
}

// Can reports whether moving to the given state is allowed.
func (m *Machine) Can(to State) bool {
	for _, s := range m.transitions[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state or returns ErrInvalidState.
func (m *Machine) Transition(to State) error {
	if !m.Can(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.current, to)
	}
	m.current = to
	return nil
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// NewID returns a new session identifier.
func NewID() string {
	return uuid.NewString()
}
