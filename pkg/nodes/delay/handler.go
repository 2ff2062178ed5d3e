// Package delay implements the node that suspends a conversation until a timer fires.
package delay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
)

var ErrInvalidDuration = errors.New("invalid delay duration")

// maxSeconds is the largest bare second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseDuration accepts a Go duration ("90s", "1h30m") or a bare number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	var (
		d   time.Duration
		err error
	)

	if seconds, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		if seconds > maxSeconds {
			return 0, fmt.Errorf("%w: %q exceeds %d seconds", ErrInvalidDuration, s, maxSeconds)
		}

		d = time.Duration(seconds) * time.Second
	} else {
		d, err = time.ParseDuration(s)
	}

	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	return d, nil
}

type Handler struct {
	scheduler protocol.Scheduler
}

func NewHandler(scheduler protocol.Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

func (h *Handler) Kind() models.NodeKind { return models.KindDelay }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindDelay }

func (h *Handler) Name() string { return "Delay" }

func (h *Handler) Description() string {
	return "Pauses the conversation and resumes it when the scheduled timer fires."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":     "string",
				"examples": []string{"30s", "2h", "86400"},
			},
		},
		"required": []string{"duration"},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	n, ok := node.(*models.DelayNode)
	if !ok {
		return nodes.WrongKind(node, models.KindDelay)
	}

	result := nodes.ValidateConfig(node, h.Schema())

	if _, err := ParseDuration(n.Duration); err != nil {
		result.AddError(n.ID, err.Error())
	}

	return result
}

// Matches accepts only the timer event scheduled for this node's current wait.
func (h *Handler) Matches(node models.Node, event *models.Event) bool {
	return event != nil && event.Type == models.EventTimer && event.JobID != ""
}

func (h *Handler) Execute(ctx context.Context, node models.Node, exec *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.DelayNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not a delay node", nil)
	}

	if wait := exec.Execution.WaitReason; wait != nil && wait.Type == models.WaitTimer &&
		h.Matches(n, exec.Event) && exec.Event.JobID == wait.JobID() {
		return models.Continue{
			Report: models.Report{Message: "delay elapsed", Data: map[string]any{"job_id": exec.Event.JobID}},
		}
	}

	d, err := ParseDuration(n.Duration)
	if err != nil {
		return models.Failf(models.ErrCodeInvalidNode, n.ID, false, err.Error(), nil)
	}

	fireAt := exec.Now.Add(d)

	jobID, err := h.scheduler.ScheduleReentry(ctx, exec.Execution.ID, fireAt)
	if err != nil {
		return models.Failf(models.ErrCodeScheduling, n.ID, true, "failed to schedule re-entry", map[string]any{
			"error": err.Error(),
		})
	}

	return models.Suspend{
		Report: models.Report{
			Message: "waiting " + d.String(),
			Data:    map[string]any{"job_id": jobID, "fire_at": fireAt.UTC().Format(time.RFC3339)},
		},
		Reason: models.WaitReason{
			Type: models.WaitTimer,
			Payload: map[string]any{
				"job_id":  jobID,
				"fire_at": fireAt.UTC().Format(time.RFC3339),
				"node_id": n.ID,
			},
		},
	}
}
