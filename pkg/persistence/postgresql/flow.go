package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// FlowRepository handles published flow versions.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

func (r *FlowRepository) Publish(ctx context.Context, flow *models.FlowDefinition) error {
	definition, err := json.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("Publish", flow.ID, flow.Version, fmt.Errorf("failed to marshal flow: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (id, version, project_id, name, definition, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, flow.ID, flow.Version, flow.ProjectID, flow.Name, definition, flow.PublishedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewFlowError("Publish", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
		}

		return persistence.NewFlowError("Publish", flow.ID, flow.Version, err)
	}

	return nil
}

func (r *FlowRepository) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT definition FROM flows WHERE id = $1 AND version = $2`, flowID, version)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("Version", flowID, version, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Version", flowID, version, err)
	}

	return flow, nil
}

func (r *FlowRepository) Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT definition FROM flows WHERE id = $1 ORDER BY version DESC LIMIT 1
	`, flowID)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("Latest", flowID, 0, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Latest", flowID, 0, err)
	}

	return flow, nil
}

func (r *FlowRepository) ListLatest(ctx context.Context) ([]*models.FlowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (id) definition FROM flows ORDER BY id, version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*models.FlowDefinition, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flows: %w", err)
	}

	return flows, nil
}

func scanFlow(row scanner) (*models.FlowDefinition, error) {
	var definition []byte

	if err := row.Scan(&definition); err != nil {
		return nil, err
	}

	var flow models.FlowDefinition
	if err := json.Unmarshal(definition, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	return &flow, nil
}
