// Package condition implements the two-way branching node.
package condition

import (
	"context"
	"math"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
	"github.com/spf13/cast"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

var operators = map[string]string{
	"eq": "eq", "==": "eq",
	"neq": "neq", "!=": "neq",
	"gt": "gt", ">": "gt",
	"gte": "gte", ">=": "gte",
	"lt": "lt", "<": "lt",
	"lte": "lte", "<=": "lte",
	"contains": "contains",
}

// Operators returns the accepted operator spellings.
func Operators() []string {
	out := make([]string, 0, len(operators))
	for op := range operators {
		out = append(out, op)
	}

	return out
}

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Kind() models.NodeKind { return models.KindCondition }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindCondition }

func (h *Handler) Name() string { return "Condition" }

func (h *Handler) Description() string {
	return "Compares two resolved operands and follows the \"true\" or \"false\" branch. " +
		"Numeric operators read non-numeric operands as 0."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"left":     map[string]any{"type": "string", "examples": []string{"{{bal}}"}},
			"operator": map[string]any{"type": "string", "enum": Operators()},
			"right":    map[string]any{"type": "string", "examples": []string{"100"}},
		},
		"required": []string{"operator"},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	if _, ok := node.(*models.ConditionNode); !ok {
		return nodes.WrongKind(node, models.KindCondition)
	}

	return nodes.ValidateConfig(node, h.Schema())
}

func (h *Handler) Execute(ctx context.Context, node models.Node, exec *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.ConditionNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not a condition node", nil)
	}

	left := exec.Resolve(ctx, n.Left)
	right := exec.Resolve(ctx, n.Right)
	result := Evaluate(left, n.Operator, right)

	label := BranchFalse
	if result {
		label = BranchTrue
	}

	return models.Branch{
		Report: models.Report{
			Message: "condition " + label,
			Data: map[string]any{
				"left":     left,
				"operator": n.Operator,
				"right":    right,
				"result":   result,
			},
		},
		Label: label,
	}
}

// Evaluate compares two resolved operands. It is total: unknown operators are
// false, and ordering operators read non-numeric operands as 0.
func Evaluate(left, operator, right string) bool {
	switch operators[strings.TrimSpace(operator)] {
	case "eq":
		return equal(left, right)
	case "neq":
		return !equal(left, right)
	case "gt":
		return number(left) > number(right)
	case "gte":
		return number(left) >= number(right)
	case "lt":
		return number(left) < number(right)
	case "lte":
		return number(left) <= number(right)
	case "contains":
		return strings.Contains(left, right)
	}

	return false
}

// equal compares numerically when both operands are finite numbers ("1.0" eq "1"),
// and as text otherwise.
func equal(left, right string) bool {
	l, lok := finite(left)
	r, rok := finite(right)

	if lok && rok {
		return l == r
	}

	return left == right
}

// number reads s as a finite number; anything else, including "nan" and "inf", is 0.
func number(s string) float64 {
	f, _ := finite(s)

	return f
}

func finite(s string) (float64, bool) {
	f, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
