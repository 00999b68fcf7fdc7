package domain

import (
	"errors"
	"fmt"
)

// ErrInstanceNotFound is returned when an instance id cannot be found in the store.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrStateMachineNotFound is returned when a state machine id cannot be found in the store.
var ErrStateMachineNotFound = errors.New("state machine not found")

// ErrInvalidRequest is returned when a caller asks for something the engine refuses to do,
// such as triggering an instance that was already persisted.
var ErrInvalidRequest = errors.New("invalid request")

// ErrStaleInstance is returned by conditional updates when the stored status
// is not one of the allowed statuses.
var ErrStaleInstance = errors.New("stale instance")

// ErrStateNotFound is returned when a state name is not part of the graph.
var ErrStateNotFound = errors.New("state not found")

// ErrUnknownStateType is returned when a definition names a state type with no implementation.
var ErrUnknownStateType = errors.New("unknown state type")

// Graph validation failures. GraphValidationError unwraps to one of these.
var (
	ErrMissingInitialState     = errors.New("initial state is not set")
	ErrUnknownInitialState     = errors.New("initial state does not exist")
	ErrDuplicateState          = errors.New("duplicate state name")
	ErrDanglingTransition      = errors.New("transition references a missing state")
	ErrInvalidTransitionType   = errors.New("invalid transition type")
	ErrInvalidForkTransition   = errors.New("fork transition must leave a fork state")
	ErrInvalidRepeatTransition = errors.New("repeat transition must leave a repeat state")
	ErrDuplicateTransition     = errors.New("duplicate transition")
	ErrStatesNotLoaded         = errors.New("state behaviors are not loaded")
)

// GraphValidationError reports why a StateMachine failed validation.
type GraphValidationError struct {
	Kind   error
	State  string
	Detail string
}

func (e *GraphValidationError) Error() string {
	msg := e.Kind.Error()
	if e.State != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.State)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return "invalid state machine: " + msg
}

func (e *GraphValidationError) Unwrap() error {
	return e.Kind
}
