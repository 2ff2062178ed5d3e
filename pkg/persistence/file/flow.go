package file

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// FlowRepository stores each published version under flows/<flow id>/<version>.json.
type FlowRepository struct {
	p *Persistence
}

func (r *FlowRepository) Publish(_ context.Context, flow *models.FlowDefinition) error {
	if err := persistence.ValidateID(flow.ID); err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	path := r.p.path("flows", flow.ID, strconv.Itoa(flow.Version)+".json")

	if _, err := os.Stat(path); err == nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
	}

	if err := writeJSON(path, flow); err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, err)
	}

	return nil
}

func (r *FlowRepository) Version(_ context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	if err := persistence.ValidateID(flowID); err != nil {
		return nil, persistence.NewFlowError("Version", flowID, version, err)
	}

	var flow models.FlowDefinition

	err := readJSON(r.p.path("flows", flowID, strconv.Itoa(version)+".json"), &flow)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewFlowError("Version", flowID, version, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Version", flowID, version, err)
	}

	return &flow, nil
}

func (r *FlowRepository) Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error) {
	if err := persistence.ValidateID(flowID); err != nil {
		return nil, persistence.NewFlowError("Latest", flowID, 0, err)
	}

	versions, err := r.versions(flowID)
	if err != nil {
		return nil, persistence.NewFlowError("Latest", flowID, 0, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewFlowError("Latest", flowID, 0, persistence.ErrFlowNotFound)
	}

	return r.Version(ctx, flowID, versions[len(versions)-1])
}

func (r *FlowRepository) ListLatest(ctx context.Context) ([]*models.FlowDefinition, error) {
	entries, err := os.ReadDir(r.p.path("flows"))
	if errors.Is(err, os.ErrNotExist) {
		return []*models.FlowDefinition{}, nil
	}

	if err != nil {
		return nil, err
	}

	flows := make([]*models.FlowDefinition, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		flow, err := r.Latest(ctx, entry.Name())
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

// versions returns the published version numbers of a flow in ascending order.
func (r *FlowRepository) versions(flowID string) ([]int, error) {
	names, err := listJSON(r.p.path("flows", flowID))
	if err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(names))

	for _, name := range names {
		v, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		versions = append(versions, v)
	}

	slices.Sort(versions)

	return versions, nil
}
