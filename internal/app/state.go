// Package app contains the lobby session controller: the state machine that
// sequences code handling, the mesh network and the scaffolding endpoint for
// both the host and the joiner role.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is the controller's lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateInitializing
	StateInitialized
	StateDiscovering
	StateCreating
	StateJoining
	StateConnected
	StateLeaving
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateInitializing: "initializing",
	StateInitialized:  "initialized",
	StateDiscovering:  "discovering",
	StateCreating:     "creating",
	StateJoining:      "joining",
	StateConnected:    "connected",
	StateLeaving:      "leaving",
	StateError:        "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Transient reports whether s is an in-between state that an operation is
// currently driving.
func (s State) Transient() bool {
	switch s {
	case StateInitializing, StateDiscovering, StateCreating, StateJoining, StateLeaving:
		return true
	}
	return false
}

// Role is the local side of a session.
type Role uint8

const (
	RoleHost Role = iota
	RoleJoiner
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "joiner"
}

func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

var (
	// ErrInvalidState is matched by every TransitionError.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrDiscoveryTimeout is returned when no lobby host showed up in time.
	ErrDiscoveryTimeout = errors.New("lobby host not found in mesh network")
	// ErrAborted is returned by an operation whose session was left while
	// it was still running.
	ErrAborted = errors.New("lobby operation aborted")
)

// TransitionError rejects an operation without side effects.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Op, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }
