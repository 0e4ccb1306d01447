// Package cadence provides the cadence bounded context module.
// It reconciles follow-up task instances whenever a lead changes stage and
// owns the per-stage cadence configuration.
package cadence

import (
	"context"
	"fmt"

	"crm_backend/internal/cadence/cache"
	"crm_backend/internal/cadence/lock"
	"crm_backend/internal/cadence/ports"
	"crm_backend/internal/cadence/repository"
	"crm_backend/internal/cadence/service"
	"crm_backend/internal/events"
	"crm_backend/platform/config"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the cadence bounded context module.
type Module struct {
	repo       *repository.Repository
	stages     *cache.CachedStageDirectory
	reconciler *service.Reconciler
	configs    *service.ConfigService
	log        *logger.Logger
}

// Dependencies are the stores and infrastructure the module runs on. Stages,
// Configs and Tasks default to the Postgres repository when nil. A nil Redis
// client disables cross-process stage locking.
type Dependencies struct {
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Bus     events.Bus
	Val     *validator.Validator
	Stages  ports.StageDirectory
	Configs ports.ConfigStore
	Tasks   ports.TaskStore
}

// NewModule creates and initializes the cadence module with all its dependencies.
func NewModule(deps Dependencies, cfg config.CadenceConfig, log *logger.Logger) (*Module, error) {
	var repo *repository.Repository
	if deps.Pool != nil {
		repo = repository.New(deps.Pool)
	}

	stagesSrc, configStore, taskStore := deps.Stages, deps.Configs, deps.Tasks
	if repo != nil {
		if stagesSrc == nil {
			stagesSrc = repo
		}
		if configStore == nil {
			configStore = repo
		}
		if taskStore == nil {
			taskStore = repo
		}
	}
	if stagesSrc == nil || configStore == nil || taskStore == nil {
		return nil, fmt.Errorf("cadence module requires a database pool or explicit stores")
	}

	stages, err := cache.NewStageDirectory(stagesSrc, cfg.GetStageCacheTTL(), cfg.GetStageCacheMaxCost(), log)
	if err != nil {
		return nil, fmt.Errorf("create stage cache: %w", err)
	}

	var locker ports.StageLocker = lock.NoopLocker{}
	if deps.Redis != nil {
		locker = lock.NewRedisLocker(deps.Redis, cfg.GetStageLockTTL(), cfg.GetStageLockWait(), log)
	}

	configSvc, err := service.NewConfigService(configStore, stages, deps.Bus, deps.Val, log)
	if err != nil {
		return nil, fmt.Errorf("create cadence config service: %w", err)
	}

	return &Module{
		repo:       repo,
		stages:     stages,
		reconciler: service.NewReconciler(stages, configStore, taskStore, locker, deps.Bus, log),
		configs:    configSvc,
		log:        log,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "cadence"
}

// Reconciler returns the reconcile service for external use.
func (m *Module) Reconciler() *service.Reconciler {
	return m.reconciler
}

// ConfigService returns the cadence configuration service for external use.
func (m *Module) ConfigService() *service.ConfigService {
	return m.configs
}

// Repository returns the Postgres repository, or nil when the module runs on
// injected stores.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// InvalidateStages drops the cached stage list of a pipeline after it was edited.
func (m *Module) InvalidateStages(e events.PipelineStagesChanged) {
	m.stages.Invalidate(e.PipelineID, e.TenantID)
}

// Close releases the stage cache.
func (m *Module) Close() {
	m.stages.Close()
}

// RegisterHandlers subscribes to the events the module reacts to.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadStageChanged{}.EventName(), m)
	bus.Subscribe(events.PipelineStagesChanged{}.EventName(), m)
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadStageChanged:
		return m.handleStageChanged(ctx, e)
	case events.PipelineStagesChanged:
		m.InvalidateStages(e)
		return nil
	default:
		return nil
	}
}

// handleStageChanged reconciles synchronously. A failed run is logged and
// retried by the next transition of the lead.
func (m *Module) handleStageChanged(ctx context.Context, e events.LeadStageChanged) error {
	result, err := m.reconciler.Reconcile(ctx, service.ReconcileRequest{
		LeadID:         e.LeadID,
		PipelineID:     e.PipelineID,
		CurrentStageID: e.NewStageID,
		AssigneeID:     e.AssigneeID,
		TenantID:       e.TenantID,
		Mode:           service.ModeCumulative,
	})
	if err != nil {
		m.log.Error("cadence reconcile failed", "leadId", e.LeadID, "stageId", e.NewStageID, "error", err)
		return err
	}

	m.log.Info("cadence reconciled",
		"leadId", e.LeadID,
		"stageId", e.NewStageID,
		"tasksCreated", result.TasksCreated,
		"stages", len(result.Details),
	)
	return nil
}

var _ events.Handler = (*Module)(nil)
