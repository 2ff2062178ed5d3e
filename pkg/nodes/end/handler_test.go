package end

import (
	"context"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Execute(t *testing.T) {
	h := NewHandler()

	for _, success := range []bool{true, false} {
		outcome := h.Execute(context.Background(), testutil.End("e", success), testutil.NewExecutionContext())

		complete, ok := outcome.(models.Complete)
		require.True(t, ok, "got %T", outcome)
		assert.Equal(t, success, complete.Success)
	}
}

func TestHandler_CanHandle(t *testing.T) {
	h := NewHandler()

	assert.True(t, h.CanHandle(models.KindEnd))
	assert.False(t, h.CanHandle(models.KindMessage))
	assert.True(t, h.Validate(testutil.End("e", false)).IsValid)
}
