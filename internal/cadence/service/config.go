package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/ports"
	"crm_backend/internal/events"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	opUpsertConfig  = "cadence.config.upsert"
	opReplaceConfig = "cadence.config.replace"
	opLoadConfigs   = "cadence.config.load"
	opDeleteConfig  = "cadence.config.delete"
	opGetConfig     = "cadence.config.get"
)

// TemplateInput is one template of a stage config write.
type TemplateInput struct {
	DayOffset       int     `json:"dayOffset" validate:"gte=0,lte=3650"`
	TaskOrder       int     `json:"taskOrder" validate:"gte=0"`
	Channel         string  `json:"channel" validate:"required,cadence_channel"`
	ActionType      string  `json:"actionType" validate:"required,cadence_action"`
	Title           string  `json:"title" validate:"required,max=200"`
	Description     string  `json:"description" validate:"max=2000"`
	TemplateContent *string `json:"templateContent,omitempty" validate:"omitempty,max=10000"`
	IsActive        bool    `json:"isActive"`
}

// UpsertStageConfigInput is the full desired state of one stage's cadence.
// StageOrder is optional; when nil the order is looked up in the stage directory.
type UpsertStageConfigInput struct {
	TenantID   uuid.UUID       `json:"tenantId"`
	PipelineID uuid.UUID       `json:"pipelineId"`
	StageName  string          `json:"stageName" validate:"required,max=120"`
	StageOrder *int            `json:"stageOrder,omitempty"`
	IsActive   bool            `json:"isActive"`
	Templates  []TemplateInput `json:"templates" validate:"max=50,dive"`
}

// ConfigService manages per-stage cadence configuration.
type ConfigService struct {
	store  ports.ConfigStore
	stages ports.StageDirectory
	bus    events.Bus
	val    *validator.Validator
	log    *logger.Logger
}

// NewConfigService registers the cadence enum rules on val. stages and bus may be nil.
func NewConfigService(store ports.ConfigStore, stages ports.StageDirectory, bus events.Bus, val *validator.Validator, log *logger.Logger) (*ConfigService, error) {
	if val == nil {
		val = validator.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	if err := val.RegisterValidation("cadence_channel", func(fl govalidator.FieldLevel) bool {
		return domain.Channel(fl.Field().String()).Valid()
	}); err != nil {
		return nil, err
	}
	if err := val.RegisterValidation("cadence_action", func(fl govalidator.FieldLevel) bool {
		return domain.ActionType(fl.Field().String()).Valid()
	}); err != nil {
		return nil, err
	}

	return &ConfigService{store: store, stages: stages, bus: bus, val: val, log: log}, nil
}

// UpsertStageConfig creates or updates the cadence of one stage. It never
// touches other stages of the pipeline. Final stages are rejected before any write.
func (s *ConfigService) UpsertStageConfig(ctx context.Context, input UpsertStageConfigInput) (ConfigResult, error) {
	params, verr := s.prepare(ctx, input)
	if verr != nil {
		return failedConfig(verr.Message), verr.WithOp(opUpsertConfig)
	}

	cfg, err := s.store.Upsert(ctx, params)
	if err != nil {
		s.log.Error("failed to save cadence config", "pipelineId", input.PipelineID, "stageName", params.StageName, "error", err)
		msg := "failed to save cadence configuration"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opUpsertConfig)
	}

	s.log.Info("cadence config saved",
		"tenantId", input.TenantID,
		"pipelineId", input.PipelineID,
		"stageName", cfg.StageName,
		"templates", len(cfg.Templates),
	)

	if s.bus != nil {
		s.bus.Publish(ctx, events.CadenceConfigSaved{
			BaseEvent:     events.NewBaseEvent(),
			ConfigID:      cfg.ID,
			PipelineID:    cfg.PipelineID,
			TenantID:      cfg.TenantID,
			StageName:     cfg.StageName,
			IsActive:      cfg.IsActive,
			TemplateCount: len(cfg.Templates),
		})
	}

	return ConfigResult{Success: true, Message: "cadence configuration saved", Config: &cfg}, nil
}

// LoadConfigs returns every stage config of a pipeline.
func (s *ConfigService) LoadConfigs(ctx context.Context, pipelineID, tenantID uuid.UUID) (ConfigResult, error) {
	configs, err := s.store.ListByPipeline(ctx, pipelineID, tenantID)
	if err != nil {
		s.log.Error("failed to load cadence configs", "pipelineId", pipelineID, "error", err)
		msg := "failed to load cadence configurations"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opLoadConfigs)
	}
	return ConfigResult{
		Success: true,
		Message: fmt.Sprintf("loaded %d cadence configuration(s)", len(configs)),
		Configs: configs,
	}, nil
}

// DeleteConfig removes every stage config of a pipeline.
func (s *ConfigService) DeleteConfig(ctx context.Context, pipelineID, tenantID uuid.UUID) (ConfigResult, error) {
	deleted, err := s.store.DeleteByPipeline(ctx, pipelineID, tenantID)
	if err != nil {
		s.log.Error("failed to delete cadence configs", "pipelineId", pipelineID, "error", err)
		msg := "failed to delete cadence configuration"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opDeleteConfig)
	}
	if deleted == 0 {
		msg := "cadence configuration not found"
		return failedConfig(msg), apperr.NotFound(msg).WithOp(opDeleteConfig)
	}
	return ConfigResult{Success: true, Message: fmt.Sprintf("deleted %d cadence configuration(s)", deleted)}, nil
}

// DeleteConfigByID removes one stage config owned by tenantID.
func (s *ConfigService) DeleteConfigByID(ctx context.Context, id, tenantID uuid.UUID) (ConfigResult, error) {
	if err := s.store.DeleteByID(ctx, id, tenantID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			msg := "cadence configuration not found"
			return failedConfig(msg), apperr.NotFound(msg).WithOp(opDeleteConfig)
		}
		s.log.Error("failed to delete cadence config", "configId", id, "error", err)
		msg := "failed to delete cadence configuration"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opDeleteConfig)
	}
	return ConfigResult{Success: true, Message: "cadence configuration deleted"}, nil
}

// GetConfigForStage returns the config of one stage, active or not.
func (s *ConfigService) GetConfigForStage(ctx context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) (ConfigResult, error) {
	cfg, err := s.store.GetByStage(ctx, pipelineID, strings.TrimSpace(stageName), tenantID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			msg := fmt.Sprintf("no cadence configuration for stage %q", stageName)
			return failedConfig(msg), apperr.NotFound(msg).WithOp(opGetConfig)
		}
		s.log.Error("failed to load cadence config", "pipelineId", pipelineID, "stageName", stageName, "error", err)
		msg := "failed to load cadence configuration"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opGetConfig)
	}
	return ConfigResult{Success: true, Message: "cadence configuration loaded", Config: &cfg}, nil
}

// Deprecated: ReplacePipelineConfigs deletes every config of the pipeline
// before writing inputs. Use UpsertStageConfig per stage.
func (s *ConfigService) ReplacePipelineConfigs(ctx context.Context, pipelineID, tenantID uuid.UUID, inputs []UpsertStageConfigInput) (ConfigResult, error) {
	params := make([]ports.UpsertConfigParams, 0, len(inputs))
	for _, input := range inputs {
		input.PipelineID = pipelineID
		input.TenantID = tenantID
		p, verr := s.prepare(ctx, input)
		if verr != nil {
			return failedConfig(verr.Message), verr.WithOp(opReplaceConfig)
		}
		params = append(params, p)
	}

	s.log.Warn("replacing all cadence configs of pipeline", "pipelineId", pipelineID, "tenantId", tenantID)

	configs, err := s.store.ReplacePipeline(ctx, pipelineID, tenantID, params)
	if err != nil {
		s.log.Error("failed to replace cadence configs", "pipelineId", pipelineID, "error", err)
		msg := "failed to save cadence configuration"
		return failedConfig(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opReplaceConfig)
	}
	return ConfigResult{Success: true, Message: "cadence configuration replaced", Configs: configs}, nil
}

func (s *ConfigService) prepare(ctx context.Context, input UpsertStageConfigInput) (ports.UpsertConfigParams, *apperr.Error) {
	input.StageName = strings.TrimSpace(input.StageName)

	if input.TenantID == uuid.Nil {
		return ports.UpsertConfigParams{}, apperr.Validation("tenant id is required")
	}
	if input.PipelineID == uuid.Nil {
		return ports.UpsertConfigParams{}, apperr.Validation("pipeline id is required")
	}
	if err := s.val.Struct(input); err != nil {
		msgs := validator.Messages(err)
		return ports.UpsertConfigParams{}, apperr.Validation("invalid cadence configuration: " + strings.Join(msgs, "; ")).WithDetails(msgs)
	}

	order := input.StageOrder
	if order == nil {
		order = s.lookupStageOrder(ctx, input)
	}
	if domain.IsFinalStage(input.StageName, order) {
		return ports.UpsertConfigParams{}, apperr.Validation(fmt.Sprintf("stage %q is a final stage and cannot have a cadence", input.StageName))
	}

	seen := make(map[int]struct{}, len(input.Templates))
	templates := make([]ports.UpsertTemplateParams, 0, len(input.Templates))
	for _, tpl := range input.Templates {
		if _, dup := seen[tpl.TaskOrder]; dup {
			return ports.UpsertConfigParams{}, apperr.Validation(fmt.Sprintf("task order %d is used more than once", tpl.TaskOrder))
		}
		seen[tpl.TaskOrder] = struct{}{}

		templates = append(templates, ports.UpsertTemplateParams{
			DayOffset:       tpl.DayOffset,
			TaskOrder:       tpl.TaskOrder,
			Channel:         domain.Channel(tpl.Channel),
			ActionType:      domain.ActionType(tpl.ActionType),
			Title:           strings.TrimSpace(tpl.Title),
			Description:     tpl.Description,
			TemplateContent: tpl.TemplateContent,
			IsActive:        tpl.IsActive,
		})
	}

	return ports.UpsertConfigParams{
		TenantID:   input.TenantID,
		PipelineID: input.PipelineID,
		StageName:  input.StageName,
		IsActive:   input.IsActive,
		Templates:  templates,
	}, nil
}

// lookupStageOrder finds the stage's order index by name. A directory failure
// leaves the name rules as the only final-stage check.
func (s *ConfigService) lookupStageOrder(ctx context.Context, input UpsertStageConfigInput) *int {
	if s.stages == nil {
		return nil
	}
	stages, err := s.stages.ListStages(ctx, input.PipelineID, input.TenantID)
	if err != nil {
		s.log.Warn("stage order lookup failed", "pipelineId", input.PipelineID, "error", err)
		return nil
	}
	for _, stage := range stages {
		if strings.EqualFold(stage.Name, input.StageName) {
			order := stage.OrderIndex
			return &order
		}
	}
	return nil
}
