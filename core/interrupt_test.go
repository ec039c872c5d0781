package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mrf24w/core"
)

func TestLineStartsDisabled(t *testing.T) {
	l := core.NewLine()
	calls := 0
	l.Attach(func() { calls++ })
	l.Set(true)
	assert.True(t, l.Disabled())
	assert.Zero(t, calls)

	// Enabling while asserted fires at once and masks the line again.
	l.Enable()
	assert.Equal(t, 1, calls)
	assert.True(t, l.Disabled())
	assert.Equal(t, uint32(1), l.Fired())
}

func TestLineLevelTriggered(t *testing.T) {
	l := core.NewLine()
	calls := 0
	l.Attach(func() { calls++ })
	l.Enable()
	assert.Zero(t, calls)

	l.Set(true)
	assert.Equal(t, 1, calls)
	// Still asserted but masked by the handler entry.
	l.Set(true)
	assert.Equal(t, 1, calls)

	l.Set(false)
	l.Enable()
	assert.Equal(t, 1, calls)
	assert.False(t, l.Disabled())

	l.Set(true)
	assert.Equal(t, 2, calls)
}

func TestLineDisableHolds(t *testing.T) {
	l := core.NewLine()
	calls := 0
	l.Attach(func() { calls++ })
	l.Enable()
	l.Disable()
	l.Set(true)
	assert.Zero(t, calls)
	l.Enable()
	assert.Equal(t, 1, calls)
}
