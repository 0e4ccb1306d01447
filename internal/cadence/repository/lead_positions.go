package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeadPosition is where a lead currently sits in a pipeline.
type LeadPosition struct {
	LeadID     uuid.UUID
	PipelineID uuid.UUID
	StageID    uuid.UUID
	AssigneeID *uuid.UUID
	CreatedAt  time.Time
}

// LeadCursor is the keyset position after the last returned lead.
type LeadCursor struct {
	CreatedAt time.Time
	LeadID    uuid.UUID
}

const listLeadPositionsQuery = `
	SELECT id, pipeline_id, pipeline_stage_id, assigned_agent_id, created_at
	FROM RAC_leads
	WHERE organization_id = $1
	  AND pipeline_id = $2
	  AND pipeline_stage_id IS NOT NULL
	  AND deleted_at IS NULL
	  AND (created_at > $3 OR (created_at = $3 AND id > $4))
	ORDER BY created_at ASC, id ASC
	LIMIT $5
`

// ListLeadPositions pages through the live leads of a pipeline that have a stage.
func (r *Repository) ListLeadPositions(ctx context.Context, pipelineID, tenantID uuid.UUID, cursor LeadCursor, limit int) ([]LeadPosition, error) {
	rows, err := r.pool.Query(ctx, listLeadPositionsQuery, tenantID, pipelineID, cursor.CreatedAt, cursor.LeadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list lead positions: %w", err)
	}
	defer rows.Close()

	leads := make([]LeadPosition, 0, limit)
	for rows.Next() {
		var lead LeadPosition
		if err := rows.Scan(&lead.LeadID, &lead.PipelineID, &lead.StageID, &lead.AssigneeID, &lead.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead position: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead positions: %w", err)
	}
	return leads, nil
}

// Next returns the cursor positioned after lead.
func (p LeadPosition) Next() LeadCursor {
	return LeadCursor{CreatedAt: p.CreatedAt, LeadID: p.LeadID}
}
