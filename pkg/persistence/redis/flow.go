package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

type FlowRepository struct {
	client *goredis.Client
	keys   keys
}

func (r *FlowRepository) Publish(ctx context.Context, flow *models.FlowDefinition) error {
	if err := persistence.ValidateID(flow.ID); err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, err)
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, fmt.Errorf("failed to marshal flow: %w", err))
	}

	created, err := r.client.SetNX(ctx, r.keys.flow(flow.ID, flow.Version), data, 0).Result()
	if err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, err)
	}

	if !created {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, r.keys.flowVersions(flow.ID), goredis.Z{Score: float64(flow.Version), Member: flow.Version})
		pipe.SAdd(ctx, r.keys.flows(), flow.ID)

		return nil
	})
	if err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, fmt.Errorf("failed to index flow: %w", err))
	}

	return nil
}

func (r *FlowRepository) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	data, err := r.client.Get(ctx, r.keys.flow(flowID, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.NewFlowError("Version", flowID, version, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Version", flowID, version, err)
	}

	var flow models.FlowDefinition
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, persistence.NewFlowError("Version", flowID, version, fmt.Errorf("failed to unmarshal flow: %w", err))
	}

	return &flow, nil
}

func (r *FlowRepository) Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error) {
	latest, err := r.client.ZRevRangeWithScores(ctx, r.keys.flowVersions(flowID), 0, 0).Result()
	if err != nil {
		return nil, persistence.NewFlowError("Latest", flowID, 0, err)
	}

	if len(latest) == 0 {
		return nil, persistence.NewFlowError("Latest", flowID, 0, persistence.ErrFlowNotFound)
	}

	return r.Version(ctx, flowID, int(latest[0].Score))
}

func (r *FlowRepository) ListLatest(ctx context.Context) ([]*models.FlowDefinition, error) {
	ids, err := r.client.SMembers(ctx, r.keys.flows()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	flows := make([]*models.FlowDefinition, 0, len(ids))

	for _, id := range ids {
		flow, err := r.Latest(ctx, id)
		if persistence.IsFlowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, nil
}
