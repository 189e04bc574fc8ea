package corekit

import (
	"fmt"

	"github.com/keyshard/keyshard/interfaces"
)

// stateMachine tracks the coarse lifecycle state and validates that
// operations run only in the states they are allowed in. It carries no
// locking of its own; CoreKit's lock guards all access.
type stateMachine struct {
	status interfaces.Status
}

// Status returns the current lifecycle state.
func (m *stateMachine) Status() interfaces.Status {
	return m.status
}

// require fails with ErrInvalidState unless the current state is one of
// the allowed ones. It must run before any side effect of an operation.
func (m *stateMachine) require(allowed ...interfaces.Status) error {
	for _, status := range allowed {
		if m.status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: state is %s", interfaces.ErrInvalidState, m.status)
}

// transition moves to the given state.
func (m *stateMachine) transition(to interfaces.Status) {
	m.status = to
}
