package repository

import (
	"context"
	"errors"
	"fmt"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const configColumns = `id, organization_id, pipeline_id, stage_name, is_active, created_at, updated_at`

const listActiveConfigsQuery = `
	SELECT ` + configColumns + `
	FROM RAC_stage_cadence_configs
	WHERE organization_id = $1
	  AND pipeline_id = $2
	  AND stage_name = $3
	  AND is_active = TRUE
	ORDER BY created_at ASC
`

const listConfigsByPipelineQuery = `
	SELECT ` + configColumns + `
	FROM RAC_stage_cadence_configs
	WHERE organization_id = $1 AND pipeline_id = $2
	ORDER BY stage_name ASC
`

const getConfigByStageQuery = `
	SELECT ` + configColumns + `
	FROM RAC_stage_cadence_configs
	WHERE organization_id = $1 AND pipeline_id = $2 AND stage_name = $3
`

const getConfigByIDQuery = `
	SELECT ` + configColumns + `
	FROM RAC_stage_cadence_configs
	WHERE organization_id = $1 AND id = $2
`

const listTemplatesQuery = `
	SELECT id, config_id, day_offset, task_order, channel, action_type, title,
	       description, template_content, is_active
	FROM RAC_cadence_task_templates
	WHERE organization_id = $1
	  AND config_id = ANY($2::uuid[])
	ORDER BY config_id ASC, task_order ASC, day_offset ASC
`

const upsertConfigQuery = `
	INSERT INTO RAC_stage_cadence_configs (id, organization_id, pipeline_id, stage_name, is_active)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (organization_id, pipeline_id, stage_name) DO UPDATE
	SET
		is_active = EXCLUDED.is_active,
		updated_at = now()
	RETURNING id
`

const upsertTemplateQuery = `
	INSERT INTO RAC_cadence_task_templates (
		id, organization_id, config_id, day_offset, task_order, channel, action_type,
		title, description, template_content, is_active
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (config_id, task_order) DO UPDATE
	SET
		day_offset = EXCLUDED.day_offset,
		channel = EXCLUDED.channel,
		action_type = EXCLUDED.action_type,
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		template_content = EXCLUDED.template_content,
		is_active = EXCLUDED.is_active,
		updated_at = now()
	RETURNING id
`

const deleteStaleTemplatesQuery = `
	DELETE FROM RAC_cadence_task_templates
	WHERE organization_id = $1
	  AND config_id = $2
	  AND NOT (id = ANY($3::uuid[]))
`

const deleteConfigsByPipelineQuery = `
	DELETE FROM RAC_stage_cadence_configs
	WHERE organization_id = $1 AND pipeline_id = $2
`

const deleteConfigByIDQuery = `
	DELETE FROM RAC_stage_cadence_configs
	WHERE organization_id = $1 AND id = $2
`

// ListActive returns the active configs of one stage with all their templates.
func (r *Repository) ListActive(ctx context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error) {
	return r.listConfigs(ctx, tenantID, listActiveConfigsQuery, tenantID, pipelineID, stageName)
}

func (r *Repository) ListByPipeline(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error) {
	return r.listConfigs(ctx, tenantID, listConfigsByPipelineQuery, tenantID, pipelineID)
}

func (r *Repository) GetByStage(ctx context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) (domain.StageCadenceConfig, error) {
	return r.getConfig(ctx, tenantID, getConfigByStageQuery, tenantID, pipelineID, stageName)
}

func (r *Repository) GetByID(ctx context.Context, id, tenantID uuid.UUID) (domain.StageCadenceConfig, error) {
	return r.getConfig(ctx, tenantID, getConfigByIDQuery, tenantID, id)
}

// Upsert writes a single stage's config and its templates in one transaction.
// Templates are keyed by task order; templates of this config that are not in
// params are removed. Other configs of the pipeline are not touched.
func (r *Repository) Upsert(ctx context.Context, params ports.UpsertConfigParams) (domain.StageCadenceConfig, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.StageCadenceConfig{}, fmt.Errorf("begin config upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	configID, err := upsertConfigTx(ctx, tx, params)
	if err != nil {
		return domain.StageCadenceConfig{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StageCadenceConfig{}, fmt.Errorf("commit config upsert: %w", err)
	}

	return r.GetByID(ctx, configID, params.TenantID)
}

// DeleteByPipeline removes every config of the pipeline and reports how many went.
func (r *Repository) DeleteByPipeline(ctx context.Context, pipelineID, tenantID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteConfigsByPipelineQuery, tenantID, pipelineID)
	if err != nil {
		return 0, fmt.Errorf("delete pipeline configs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeleteByID(ctx context.Context, id, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteConfigByIDQuery, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deprecated: ReplacePipeline deletes every config of the pipeline and then
// inserts configs. Use Upsert per stage.
func (r *Repository) ReplacePipeline(ctx context.Context, pipelineID, tenantID uuid.UUID, configs []ports.UpsertConfigParams) ([]domain.StageCadenceConfig, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin pipeline replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteConfigsByPipelineQuery, tenantID, pipelineID); err != nil {
		return nil, fmt.Errorf("clear pipeline configs: %w", err)
	}

	for _, cfg := range configs {
		cfg.TenantID = tenantID
		cfg.PipelineID = pipelineID
		if _, err := upsertConfigTx(ctx, tx, cfg); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit pipeline replace: %w", err)
	}

	return r.ListByPipeline(ctx, pipelineID, tenantID)
}

func upsertConfigTx(ctx context.Context, tx DBTX, params ports.UpsertConfigParams) (uuid.UUID, error) {
	configID := uuid.New()
	err := tx.QueryRow(ctx, upsertConfigQuery,
		configID,
		params.TenantID,
		params.PipelineID,
		params.StageName,
		params.IsActive,
	).Scan(&configID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert stage config: %w", err)
	}

	if err := upsertTemplatesTx(ctx, tx, params.TenantID, configID, params.Templates); err != nil {
		return uuid.Nil, err
	}
	return configID, nil
}

func upsertTemplatesTx(ctx context.Context, tx DBTX, tenantID, configID uuid.UUID, templates []ports.UpsertTemplateParams) error {
	keptIDs := make([]uuid.UUID, 0, len(templates))

	for _, tpl := range templates {
		templateID := uuid.New()
		err := tx.QueryRow(ctx, upsertTemplateQuery,
			templateID,
			tenantID,
			configID,
			tpl.DayOffset,
			tpl.TaskOrder,
			string(tpl.Channel),
			string(tpl.ActionType),
			tpl.Title,
			tpl.Description,
			tpl.TemplateContent,
			tpl.IsActive,
		).Scan(&templateID)
		if err != nil {
			return fmt.Errorf("upsert cadence template %d: %w", tpl.TaskOrder, err)
		}
		keptIDs = append(keptIDs, templateID)
	}

	if _, err := tx.Exec(ctx, deleteStaleTemplatesQuery, tenantID, configID, keptIDs); err != nil {
		return fmt.Errorf("delete stale cadence templates: %w", err)
	}
	return nil
}

func (r *Repository) getConfig(ctx context.Context, tenantID uuid.UUID, query string, args ...any) (domain.StageCadenceConfig, error) {
	configs, err := r.listConfigs(ctx, tenantID, query, args...)
	if err != nil {
		return domain.StageCadenceConfig{}, err
	}
	if len(configs) == 0 {
		return domain.StageCadenceConfig{}, ErrNotFound
	}
	return configs[0], nil
}

func (r *Repository) listConfigs(ctx context.Context, tenantID uuid.UUID, query string, args ...any) ([]domain.StageCadenceConfig, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage configs: %w", err)
	}
	defer rows.Close()

	configs := make([]domain.StageCadenceConfig, 0)
	configByID := make(map[uuid.UUID]int)
	for rows.Next() {
		var cfg domain.StageCadenceConfig
		if err := rows.Scan(
			&cfg.ID,
			&cfg.TenantID,
			&cfg.PipelineID,
			&cfg.StageName,
			&cfg.IsActive,
			&cfg.CreatedAt,
			&cfg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stage config: %w", err)
		}
		configByID[cfg.ID] = len(configs)
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage configs: %w", err)
	}
	if len(configs) == 0 {
		return configs, nil
	}

	if err := r.attachTemplates(ctx, tenantID, configs, configByID); err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *Repository) attachTemplates(ctx context.Context, tenantID uuid.UUID, configs []domain.StageCadenceConfig, configByID map[uuid.UUID]int) error {
	ids := make([]uuid.UUID, 0, len(configByID))
	for id := range configByID {
		ids = append(ids, id)
	}

	rows, err := r.pool.Query(ctx, listTemplatesQuery, tenantID, ids)
	if err != nil {
		return fmt.Errorf("list cadence templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tpl        domain.CadenceTaskTemplate
			configID   uuid.UUID
			channel    string
			actionType string
		)
		if err := rows.Scan(
			&tpl.ID,
			&configID,
			&tpl.DayOffset,
			&tpl.TaskOrder,
			&channel,
			&actionType,
			&tpl.Title,
			&tpl.Description,
			&tpl.TemplateContent,
			&tpl.IsActive,
		); err != nil {
			return fmt.Errorf("scan cadence template: %w", err)
		}
		tpl.Channel = domain.Channel(channel)
		tpl.ActionType = domain.ActionType(actionType)
		if idx, ok := configByID[configID]; ok {
			configs[idx].Templates = append(configs[idx].Templates, tpl)
		}
	}
	return rows.Err()
}

// IsNotFound reports whether err means the row is missing for the tenant.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
