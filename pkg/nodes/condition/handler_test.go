package condition

import (
	"context"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		left, op, right string
		want            bool
	}{
		{"500", "gt", "100", true},
		{"50", "gt", "100", false},
		{"100", "gte", "100", true},
		{"99.5", "<", "100", true},
		{"100", "lte", "99", false},
		{"abc", "eq", "abc", true},
		{"500", "==", "500.0", true},
		{"abc", "!=", "abd", true},
		{"hello world", "contains", "world", true},
		{"1", "matches", "1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(tt.left, tt.op, tt.right), "%s %s %s", tt.left, tt.op, tt.right)
	}
}

// Ordering operators read non-numeric operands as zero instead of failing.
// Existing flows depend on this, so it must not change.
func TestEvaluate_NonNumericCoercesToZero(t *testing.T) {
	assert.False(t, Evaluate("abc", "gt", "0"))
	assert.True(t, Evaluate("abc", "gte", "0"))
	assert.True(t, Evaluate("abc", "lt", "1"))
	assert.True(t, Evaluate("", "lte", "0"))
	assert.True(t, Evaluate("-5", "lt", "n/a"))
	assert.False(t, Evaluate("", "gt", "100"))
}

func TestEvaluate_NonFiniteTextIsNotANumber(t *testing.T) {
	assert.True(t, Evaluate("nan", "lte", "0"))
	assert.True(t, Evaluate("NaN", "gte", "0"))
	assert.False(t, Evaluate("inf", "gt", "100"))
	assert.False(t, Evaluate("infinity", "gt", "100"))
	assert.True(t, Evaluate("-Inf", "gte", "0"))

	assert.False(t, Evaluate("nan", "eq", "NaN"))
	assert.True(t, Evaluate("inf", "eq", "inf"))
	assert.False(t, Evaluate("inf", "eq", "Infinity"))
}

func TestEvaluate_EqualityIsNumericWhenBothSidesAreNumbers(t *testing.T) {
	assert.True(t, Evaluate("1.0", "eq", "1"))
	assert.True(t, Evaluate(" 42 ", "==", "42"))
	assert.False(t, Evaluate("1.0", "neq", "1"))
	assert.False(t, Evaluate("1.0", "eq", "one"))
	assert.True(t, Evaluate("01", "!=", "x1"))
}

func TestHandler_Execute_Branches(t *testing.T) {
	h := NewHandler()

	exec := testutil.NewExecutionContext()
	exec.SetVariable("bal", 500)

	outcome := h.Execute(context.Background(), testutil.Condition("c", "{{bal}}", "gt", "100"), exec)

	branch, ok := outcome.(models.Branch)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, BranchTrue, branch.Label)
	assert.Equal(t, "500", branch.Data["left"])

	exec.SetVariable("bal", 50)

	outcome = h.Execute(context.Background(), testutil.Condition("c", "{{bal}}", "gt", "100"), exec)
	assert.Equal(t, BranchFalse, outcome.(models.Branch).Label)
}

func TestHandler_Execute_UnsetVariableTakesFalseBranch(t *testing.T) {
	h := NewHandler()

	outcome := h.Execute(context.Background(), testutil.Condition("c", "{{missing}}", "gt", "100"), testutil.NewExecutionContext())

	assert.Equal(t, BranchFalse, outcome.(models.Branch).Label)
}

func TestHandler_Validate(t *testing.T) {
	h := NewHandler()

	assert.True(t, h.Validate(testutil.Condition("c", "{{a}}", "gte", "1")).IsValid)
	assert.True(t, h.Validate(testutil.Condition("c", "{{a}}", "!=", "1")).IsValid)
	assert.False(t, h.Validate(testutil.Condition("c", "{{a}}", "between", "1")).IsValid)
	assert.False(t, h.Validate(testutil.Condition("c", "{{a}}", "", "1")).IsValid)
}
