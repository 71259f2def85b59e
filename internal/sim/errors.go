package sim

import (
	"errors"
	"fmt"
)

type StateErrorKind string

const (
	AlreadyRunning   StateErrorKind = "AlreadyRunning"
	NoScenarioLoaded StateErrorKind = "NoScenarioLoaded"
	NotRunning       StateErrorKind = "NotRunning"
)

var (
	ErrAlreadyRunning   = errors.New("simulation already running")
	ErrNoScenarioLoaded = errors.New("no valid scenario loaded")
	ErrNotRunning       = errors.New("simulation is not running")
)

// StateError reports a lifecycle operation issued in the wrong state.
type StateError struct {
	Kind      StateErrorKind
	Op        string
	Lifecycle Lifecycle
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (lifecycle=%s)", e.Op, e.sentinel(), e.Lifecycle)
}

func (e *StateError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *StateError) sentinel() error {
	switch e.Kind {
	case AlreadyRunning:
		return ErrAlreadyRunning
	case NoScenarioLoaded:
		return ErrNoScenarioLoaded
	default:
		return ErrNotRunning
	}
}

func newStateError(kind StateErrorKind, op string, lc Lifecycle) *StateError {
	return &StateError{Kind: kind, Op: op, Lifecycle: lc}
}
