package corekit

import (
	"testing"

	"github.com/keyshard/keyshard/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineRequire(t *testing.T) {
	sm := stateMachine{}

	require.NoError(t, sm.require(interfaces.StatusNotInitialized))
	require.NoError(t, sm.require(interfaces.StatusInitialized, interfaces.StatusNotInitialized))

	err := sm.require(interfaces.StatusLoggedIn)
	require.ErrorIs(t, err, interfaces.ErrInvalidState)
	assert.Contains(t, err.Error(), "NOT_INITIALIZED")
}

func TestStateMachineTransition(t *testing.T) {
	sm := stateMachine{}

	sm.transition(interfaces.StatusInitialized)
	assert.Equal(t, interfaces.StatusInitialized, sm.Status())

	sm.transition(interfaces.StatusRequiredShare)
	require.ErrorIs(t, sm.require(interfaces.StatusInitialized), interfaces.ErrInvalidState)
	require.NoError(t, sm.require(interfaces.StatusRequiredShare, interfaces.StatusLoggedIn))
}
