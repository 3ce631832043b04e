package pipeline

import "fmt"

// SessionError wraps a failure of a pipeline operation with the operation
// name for matching and display.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string { return fmt.Sprintf("session %s: %v", e.Op, e.Err) }
func (e *SessionError) Unwrap() error { return e.Err }

// State is the observable lifecycle phase of a Session.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateStreaming
	StateDraining
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateAborting:
		return "aborting"
	}
	return "unknown"
}
