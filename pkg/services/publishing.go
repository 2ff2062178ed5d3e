package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/registry"
	"github.com/dukex/convoflow/pkg/validation"
)

// maxPublishAttempts bounds retries when a concurrent publish takes the next version number.
const maxPublishAttempts = 3

// Publishing stores immutable, numbered flow versions. A flow is only published when
// both the graph rules and every node's own validation pass.
type Publishing struct {
	flows    persistence.FlowRepository
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublishing creates a new flow publishing service.
func NewPublishing(flows persistence.FlowRepository, registry *registry.Registry, logger *slog.Logger) *Publishing {
	return &Publishing{
		flows:    flows,
		registry: registry,
		logger:   logger.With("module", "publishing"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate runs the graph rules, the definition invariants and the node handlers' checks.
func (p *Publishing) Validate(flow *models.FlowDefinition) validation.Result {
	result := validation.ValidateDefinition(flow)
	result.Merge(p.registry.ValidateNodes(flow.Nodes))

	return result
}

// Publish assigns flow the next version number and stores it. Warnings do not block publishing.
func (p *Publishing) Publish(ctx context.Context, flow *models.FlowDefinition) (*models.FlowDefinition, validation.Result, error) {
	if flow == nil {
		return nil, validation.Result{}, NewValidationError("Publish", "flow_nil", "flow cannot be nil", ErrFlowNil)
	}

	if err := persistence.ValidateID(flow.ID); err != nil {
		return nil, validation.Result{}, NewValidationError("Publish", "invalid_id", err.Error(), ErrInvalidRequest)
	}

	if flow.ProjectID == "" {
		return nil, validation.Result{}, NewValidationError("Publish", "project_required", "project id is required", ErrInvalidRequest)
	}

	result := p.Validate(flow)
	if errs := result.Errors(); len(errs) > 0 {
		diagnostics := make([]string, 0, len(errs))
		for _, d := range errs {
			diagnostics = append(diagnostics, d.String())
		}

		return nil, result, &ServiceError{
			Op:          "Publish",
			Code:        "flow_invalid",
			Message:     result.Error(),
			Err:         ErrFlowInvalid,
			Diagnostics: diagnostics,
		}
	}

	for attempt := 1; ; attempt++ {
		published, err := p.publishNext(ctx, flow)
		if err == nil {
			p.logger.InfoContext(ctx, "Flow published",
				"flow_id", published.ID,
				"flow_version", published.Version,
				"warnings", len(result.Warnings()))

			return published, result, nil
		}

		if !errors.Is(err, persistence.ErrFlowVersionExists) || attempt == maxPublishAttempts {
			return nil, result, err
		}

		p.logger.WarnContext(ctx, "Flow version taken concurrently, retrying", "flow_id", flow.ID, "attempt", attempt)
	}
}

func (p *Publishing) publishNext(ctx context.Context, flow *models.FlowDefinition) (*models.FlowDefinition, error) {
	version := 1

	latest, err := p.flows.Latest(ctx, flow.ID)

	switch {
	case err == nil:
		if latest.ProjectID != flow.ProjectID {
			return nil, &ServiceError{
				Op:      "Publish",
				Code:    "project_changed",
				Message: fmt.Sprintf("flow %s belongs to project %s", flow.ID, latest.ProjectID),
				Err:     ErrProjectChanged,
			}
		}

		version = latest.Version + 1
	case !persistence.IsFlowNotFound(err):
		return nil, fmt.Errorf("failed to read latest version of flow %s: %w", flow.ID, err)
	}

	published := *flow
	published.Version = version
	published.PublishedAt = p.now()

	if err := p.flows.Publish(ctx, &published); err != nil {
		return nil, err
	}

	return &published, nil
}

// Latest returns the highest published version of a flow.
func (p *Publishing) Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error) {
	return p.flows.Latest(ctx, flowID)
}

// Version returns one published version of a flow.
func (p *Publishing) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	return p.flows.Version(ctx, flowID, version)
}

// List returns the latest version of every published flow.
func (p *Publishing) List(ctx context.Context) ([]*models.FlowDefinition, error) {
	return p.flows.ListLatest(ctx)
}
