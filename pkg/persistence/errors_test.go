package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		flowErr := persistence.NewFlowError("Version", "flow-1", 3, persistence.ErrFlowNotFound)
		execErr := persistence.NewExecutionError("Save", "exec-1", persistence.ErrVersionConflict)

		assert.True(t, persistence.IsFlowNotFound(flowErr))
		assert.True(t, persistence.IsVersionConflict(execErr))
		assert.False(t, persistence.IsExecutionNotFound(execErr))
		assert.True(t, errors.Is(execErr, persistence.ErrVersionConflict))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewFlowError("Version", "flow-1", 3, persistence.ErrFlowNotFound)

		assert.Contains(t, err.Error(), "Version")
		assert.Contains(t, err.Error(), "flow-1 version 3")
		assert.Contains(t, err.Error(), "flow not found")
	})
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, persistence.ValidateID("8f14e45f-ceea-4e7a-9f1b-4b1f0e8a2b1c"))

	for _, id := range []string{"", "..", "a/b", `a\b`, "a:b"} {
		assert.ErrorIs(t, persistence.ValidateID(id), persistence.ErrInvalidID, id)
	}
}
