// Package ports defines the collaborators the cadence engine depends on.
// Storage adapters live in the repository package; tests use in-memory fakes.
package ports

import (
	"context"
	"errors"

	"crm_backend/internal/cadence/domain"

	"github.com/google/uuid"
)

// ErrDuplicate is returned by TaskStore.Insert when a generated instance for
// the same (lead, stage, template) already exists.
var ErrDuplicate = errors.New("task instance already exists")

// ErrNotFound is returned when a row does not exist or belongs to another tenant.
var ErrNotFound = errors.New("not found")

// StageDirectory lists the stages of a pipeline in ascending order index.
type StageDirectory interface {
	ListStages(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.Stage, error)
}

// UpsertTemplateParams is one template of a config upsert.
type UpsertTemplateParams struct {
	DayOffset       int
	TaskOrder       int
	Channel         domain.Channel
	ActionType      domain.ActionType
	Title           string
	Description     string
	TemplateContent *string
	IsActive        bool
}

// UpsertConfigParams identifies a config by (tenant, pipeline, stage name)
// and carries its full template list.
type UpsertConfigParams struct {
	TenantID   uuid.UUID
	PipelineID uuid.UUID
	StageName  string
	IsActive   bool
	Templates  []UpsertTemplateParams
}

// ConfigStore persists stage cadence configurations.
type ConfigStore interface {
	// ListActive returns active configs for one stage with their templates.
	ListActive(ctx context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error)
	ListByPipeline(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error)
	GetByStage(ctx context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) (domain.StageCadenceConfig, error)
	GetByID(ctx context.Context, id, tenantID uuid.UUID) (domain.StageCadenceConfig, error)
	// Upsert writes one stage's config. Sibling stage configs are untouched.
	Upsert(ctx context.Context, params UpsertConfigParams) (domain.StageCadenceConfig, error)
	DeleteByPipeline(ctx context.Context, pipelineID, tenantID uuid.UUID) (int64, error)
	DeleteByID(ctx context.Context, id, tenantID uuid.UUID) error
	// Deprecated: ReplacePipeline deletes every config of the pipeline before
	// inserting. Use Upsert per stage.
	ReplacePipeline(ctx context.Context, pipelineID, tenantID uuid.UUID, configs []UpsertConfigParams) ([]domain.StageCadenceConfig, error)
}

// TaskStore persists task instances.
type TaskStore interface {
	// ListAutoGenerated returns generated, non-manual instances for a lead's stage.
	ListAutoGenerated(ctx context.Context, leadID, stageID, tenantID uuid.UUID) ([]domain.TaskInstance, error)
	// CountForStage counts every instance for a lead's stage, manual ones included.
	CountForStage(ctx context.Context, leadID, stageID, tenantID uuid.UUID) (int, error)
	Insert(ctx context.Context, task domain.TaskInstance) (domain.TaskInstance, error)
}

// StageRefresher is implemented by stage directories that cache. RefreshStages
// bypasses the cache and re-reads the pipeline from its source.
type StageRefresher interface {
	RefreshStages(ctx context.Context, pipelineID, tenantID uuid.UUID) ([]domain.Stage, error)
}

// StageLocker serializes reconciliation of a single (lead, stage).
type StageLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
