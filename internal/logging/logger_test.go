package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBeforeInitializeIsNoop(t *testing.T) {
	mu.Lock()
	root = nil
	mu.Unlock()

	l := Get(CategoryStore)
	require.NotNil(t, l)
	l.Info("must not panic")
}

func TestInitializeLevels(t *testing.T) {
	require.NoError(t, Initialize(Options{Level: "debug"}))
	require.NoError(t, Initialize(Options{Level: ""}))
	require.NoError(t, Initialize(Options{Level: "warn"}))
	assert.Error(t, Initialize(Options{Level: "loud"}))
}

func TestCategoryDisable(t *testing.T) {
	require.NoError(t, Initialize(Options{
		Level:      "debug",
		Categories: map[string]bool{"solver": false},
	}))

	disabled := Get(CategorySolver)
	enabled := Get(CategoryStore)
	assert.Same(t, nop, disabled)
	assert.NotSame(t, nop, enabled)

	// Cached on second lookup.
	assert.Same(t, enabled, Get(CategoryStore))
}
