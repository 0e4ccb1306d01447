package repository

import (
	"context"
	"errors"
	"fmt"

	"crm_backend/internal/cadence/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const listAutoGeneratedTasksQuery = `
	SELECT id, organization_id, lead_id, pipeline_id, stage_id, template_id, assigned_to,
	       channel, action_type, title, description, template_content, day_offset,
	       task_order, status, scheduled_at, is_manual_activity, auto_generated, created_at
	FROM RAC_lead_tasks
	WHERE organization_id = $1
	  AND lead_id = $2
	  AND stage_id = $3
	  AND auto_generated = TRUE
	  AND is_manual_activity = FALSE
	ORDER BY task_order ASC, created_at ASC
`

const countTasksForStageQuery = `
	SELECT COUNT(*)
	FROM RAC_lead_tasks
	WHERE organization_id = $1 AND lead_id = $2 AND stage_id = $3
`

// The partial unique index on (organization_id, lead_id, stage_id, template_id)
// turns a concurrent duplicate into an empty RETURNING set.
const insertTaskQuery = `
	INSERT INTO RAC_lead_tasks (
		id, organization_id, lead_id, pipeline_id, stage_id, template_id, assigned_to,
		channel, action_type, title, description, template_content, day_offset,
		task_order, status, scheduled_at, is_manual_activity, auto_generated
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT DO NOTHING
	RETURNING created_at
`

func (r *Repository) ListAutoGenerated(ctx context.Context, leadID, stageID, tenantID uuid.UUID) ([]domain.TaskInstance, error) {
	rows, err := r.pool.Query(ctx, listAutoGeneratedTasksQuery, tenantID, leadID, stageID)
	if err != nil {
		return nil, fmt.Errorf("list generated tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.TaskInstance, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated tasks: %w", err)
	}
	return tasks, nil
}

func (r *Repository) CountForStage(ctx context.Context, leadID, stageID, tenantID uuid.UUID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, countTasksForStageQuery, tenantID, leadID, stageID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stage tasks: %w", err)
	}
	return count, nil
}

// Insert stores a task instance. It returns ErrDuplicate when a generated
// instance for the same template already exists for the lead's stage.
func (r *Repository) Insert(ctx context.Context, task domain.TaskInstance) (domain.TaskInstance, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}

	err := r.pool.QueryRow(ctx, insertTaskQuery,
		task.ID,
		task.TenantID,
		task.LeadID,
		task.PipelineID,
		task.StageID,
		task.TemplateID,
		task.AssigneeID,
		string(task.Channel),
		string(task.ActionType),
		task.Title,
		task.Description,
		task.TemplateContent,
		task.DayOffset,
		task.TaskOrder,
		string(task.Status),
		task.ScheduledAt,
		task.IsManualActivity,
		task.AutoGenerated,
	).Scan(&task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.TaskInstance{}, ErrDuplicate
	}
	if err != nil {
		return domain.TaskInstance{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func scanTask(rows pgx.Rows) (domain.TaskInstance, error) {
	var (
		task       domain.TaskInstance
		channel    string
		actionType string
		status     string
	)
	if err := rows.Scan(
		&task.ID,
		&task.TenantID,
		&task.LeadID,
		&task.PipelineID,
		&task.StageID,
		&task.TemplateID,
		&task.AssigneeID,
		&channel,
		&actionType,
		&task.Title,
		&task.Description,
		&task.TemplateContent,
		&task.DayOffset,
		&task.TaskOrder,
		&status,
		&task.ScheduledAt,
		&task.IsManualActivity,
		&task.AutoGenerated,
		&task.CreatedAt,
	); err != nil {
		return domain.TaskInstance{}, fmt.Errorf("scan task: %w", err)
	}
	task.Channel = domain.Channel(channel)
	task.ActionType = domain.ActionType(actionType)
	task.Status = domain.TaskStatus(status)
	return task, nil
}
