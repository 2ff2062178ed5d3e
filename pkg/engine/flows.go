package engine

import (
	"context"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

type flowKey struct {
	id      string
	version int
}

// flowCache keeps published versions in memory. Published versions never change, so
// entries are never invalidated. Latest always asks the repository.
type flowCache struct {
	repository persistence.FlowRepository

	mu       sync.RWMutex
	versions map[flowKey]*models.FlowDefinition
}

func newFlowCache(repository persistence.FlowRepository) *flowCache {
	return &flowCache{
		repository: repository,
		versions:   make(map[flowKey]*models.FlowDefinition),
	}
}

func (c *flowCache) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	key := flowKey{id: flowID, version: version}

	c.mu.RLock()
	flow, ok := c.versions[key]
	c.mu.RUnlock()

	if ok {
		return flow, nil
	}

	flow, err := c.repository.Version(ctx, flowID, version)
	if err != nil {
		return nil, err
	}

	c.store(flow)

	return flow, nil
}

func (c *flowCache) Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error) {
	flow, err := c.repository.Latest(ctx, flowID)
	if err != nil {
		return nil, err
	}

	c.store(flow)

	return flow, nil
}

func (c *flowCache) store(flow *models.FlowDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := flowKey{id: flow.ID, version: flow.Version}
	if _, ok := c.versions[key]; !ok {
		c.versions[key] = flow
	}
}
