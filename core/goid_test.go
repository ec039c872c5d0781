package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoid(t *testing.T) {
	id := goid()
	assert.NotZero(t, id)
	assert.Equal(t, id, goid())

	other := make(chan uint64)
	go func() { other <- goid() }()
	assert.NotEqual(t, id, <-other)
}
