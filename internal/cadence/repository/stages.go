package repository

import (
	"context"
	"fmt"

	"crm_backend/internal/cadence/domain"

	"github.com/google/uuid"
)

const listStagesQuery = `
	SELECT id, pipeline_id, name, order_index
	FROM RAC_pipeline_stages
	WHERE organization_id = $1 AND pipeline_id = $2
	ORDER BY order_index ASC, name ASC
`

// ListStages returns the pipeline's stages in ascending order index.
func (r *Repository) ListStages(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.Stage, error) {
	rows, err := r.pool.Query(ctx, listStagesQuery, tenantID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline stages: %w", err)
	}
	defer rows.Close()

	stages := make([]domain.Stage, 0)
	for rows.Next() {
		var stage domain.Stage
		if err := rows.Scan(&stage.ID, &stage.PipelineID, &stage.Name, &stage.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan pipeline stage: %w", err)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline stages: %w", err)
	}
	return stages, nil
}
