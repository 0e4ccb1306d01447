package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/ports"
	"crm_backend/internal/events"

	"github.com/google/uuid"
)

var errStoreDown = errors.New("store unavailable")

type fakeDirectory struct {
	stages []domain.Stage
	err    error
}

func (d *fakeDirectory) ListStages(_ context.Context, pipelineID, _ uuid.UUID) ([]domain.Stage, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]domain.Stage, 0, len(d.stages))
	for _, s := range d.stages {
		if s.PipelineID == pipelineID {
			out = append(out, s)
		}
	}
	return out, nil
}

type configKey struct {
	tenant    uuid.UUID
	pipeline  uuid.UUID
	stageName string
}

type fakeConfigStore struct {
	mu           sync.Mutex
	configs      map[configKey]domain.StageCadenceConfig
	listErrs     map[string]error
	upserts      int
	replaceCalls int
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		configs:  make(map[configKey]domain.StageCadenceConfig),
		listErrs: make(map[string]error),
	}
}

// seed stores a config with fresh template IDs and returns it.
func (s *fakeConfigStore) seed(tenantID, pipelineID uuid.UUID, stageName string, templates ...domain.CadenceTaskTemplate) domain.StageCadenceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range templates {
		if templates[i].ID == uuid.Nil {
			templates[i].ID = uuid.New()
		}
	}
	cfg := domain.StageCadenceConfig{
		ID:         uuid.New(),
		TenantID:   tenantID,
		PipelineID: pipelineID,
		StageName:  stageName,
		IsActive:   true,
		Templates:  templates,
	}
	s.configs[configKey{tenantID, pipelineID, stageName}] = cfg
	return cfg
}

func (s *fakeConfigStore) ListActive(_ context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErrs[stageName]; err != nil {
		return nil, err
	}
	cfg, ok := s.configs[configKey{tenantID, pipelineID, stageName}]
	if !ok || !cfg.IsActive {
		return nil, nil
	}
	return []domain.StageCadenceConfig{cfg}, nil
}

func (s *fakeConfigStore) ListByPipeline(_ context.Context, pipelineID, tenantID uuid.UUID) ([]domain.StageCadenceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StageCadenceConfig, 0)
	for key, cfg := range s.configs {
		if key.tenant == tenantID && key.pipeline == pipelineID {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageName < out[j].StageName })
	return out, nil
}

func (s *fakeConfigStore) GetByStage(_ context.Context, pipelineID uuid.UUID, stageName string, tenantID uuid.UUID) (domain.StageCadenceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[configKey{tenantID, pipelineID, stageName}]
	if !ok {
		return domain.StageCadenceConfig{}, ports.ErrNotFound
	}
	return cfg, nil
}

func (s *fakeConfigStore) GetByID(_ context.Context, id, tenantID uuid.UUID) (domain.StageCadenceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cfg := range s.configs {
		if cfg.ID == id && key.tenant == tenantID {
			return cfg, nil
		}
	}
	return domain.StageCadenceConfig{}, ports.ErrNotFound
}

func (s *fakeConfigStore) Upsert(_ context.Context, params ports.UpsertConfigParams) (domain.StageCadenceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return s.upsertLocked(params), nil
}

func (s *fakeConfigStore) upsertLocked(params ports.UpsertConfigParams) domain.StageCadenceConfig {
	key := configKey{params.TenantID, params.PipelineID, params.StageName}
	existing, ok := s.configs[key]

	idsByOrder := make(map[int]uuid.UUID)
	cfg := domain.StageCadenceConfig{ID: uuid.New(), CreatedAt: time.Now()}
	if ok {
		cfg = existing
		for _, tpl := range existing.Templates {
			idsByOrder[tpl.TaskOrder] = tpl.ID
		}
	}
	cfg.TenantID = params.TenantID
	cfg.PipelineID = params.PipelineID
	cfg.StageName = params.StageName
	cfg.IsActive = params.IsActive
	cfg.UpdatedAt = time.Now()
	cfg.Templates = make([]domain.CadenceTaskTemplate, 0, len(params.Templates))
	for _, tpl := range params.Templates {
		id, found := idsByOrder[tpl.TaskOrder]
		if !found {
			id = uuid.New()
		}
		cfg.Templates = append(cfg.Templates, domain.CadenceTaskTemplate{
			ID:              id,
			DayOffset:       tpl.DayOffset,
			TaskOrder:       tpl.TaskOrder,
			Channel:         tpl.Channel,
			ActionType:      tpl.ActionType,
			Title:           tpl.Title,
			Description:     tpl.Description,
			TemplateContent: tpl.TemplateContent,
			IsActive:        tpl.IsActive,
		})
	}
	s.configs[key] = cfg
	return cfg
}

func (s *fakeConfigStore) DeleteByPipeline(_ context.Context, pipelineID, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key := range s.configs {
		if key.tenant == tenantID && key.pipeline == pipelineID {
			delete(s.configs, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeConfigStore) DeleteByID(_ context.Context, id, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cfg := range s.configs {
		if cfg.ID == id && key.tenant == tenantID {
			delete(s.configs, key)
			return nil
		}
	}
	return ports.ErrNotFound
}

func (s *fakeConfigStore) ReplacePipeline(ctx context.Context, pipelineID, tenantID uuid.UUID, configs []ports.UpsertConfigParams) ([]domain.StageCadenceConfig, error) {
	s.mu.Lock()
	s.replaceCalls++
	for key := range s.configs {
		if key.tenant == tenantID && key.pipeline == pipelineID {
			delete(s.configs, key)
		}
	}
	for _, params := range configs {
		s.upsertLocked(params)
	}
	s.mu.Unlock()
	return s.ListByPipeline(ctx, pipelineID, tenantID)
}

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     []domain.TaskInstance
	insertErr func(task domain.TaskInstance) error
	countErr  error
	listErr   error
	inserts   int
}

func (s *fakeTaskStore) add(task domain.TaskInstance) domain.TaskInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *fakeTaskStore) ListAutoGenerated(_ context.Context, leadID, stageID, tenantID uuid.UUID) ([]domain.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.TaskInstance, 0)
	for _, task := range s.tasks {
		if task.TenantID == tenantID && task.LeadID == leadID && task.StageID == stageID && task.IsGenerated() {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) CountForStage(_ context.Context, leadID, stageID, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	count := 0
	for _, task := range s.tasks {
		if task.TenantID == tenantID && task.LeadID == leadID && task.StageID == stageID {
			count++
		}
	}
	return count, nil
}

// Insert enforces the same (tenant, lead, stage, template) uniqueness as the database index.
func (s *fakeTaskStore) Insert(_ context.Context, task domain.TaskInstance) (domain.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		if err := s.insertErr(task); err != nil {
			return domain.TaskInstance{}, err
		}
	}
	if task.IsGenerated() && task.TemplateID != nil {
		for _, existing := range s.tasks {
			if existing.IsGenerated() && existing.TemplateID != nil &&
				*existing.TemplateID == *task.TemplateID &&
				existing.LeadID == task.LeadID && existing.StageID == task.StageID && existing.TenantID == task.TenantID {
				return domain.TaskInstance{}, ports.ErrDuplicate
			}
		}
	}
	task.ID = uuid.New()
	task.CreatedAt = time.Now()
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *fakeTaskStore) forStage(stageID uuid.UUID) []domain.TaskInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TaskInstance, 0)
	for _, task := range s.tasks {
		if task.StageID == stageID {
			out = append(out, task)
		}
	}
	return out
}

func (s *fakeTaskStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) events() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.published))
	copy(out, b.published)
	return out
}

type failingLocker struct{ err error }

func (l failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, l.err
}

func template(title string, order, dayOffset int) domain.CadenceTaskTemplate {
	return domain.CadenceTaskTemplate{
		DayOffset:  dayOffset,
		TaskOrder:  order,
		Channel:    domain.ChannelCall,
		ActionType: domain.ActionCall,
		Title:      title,
		IsActive:   true,
	}
}

func titleFailure(title string) func(domain.TaskInstance) error {
	return func(task domain.TaskInstance) error {
		if strings.EqualFold(task.Title, title) {
			return errStoreDown
		}
		return nil
	}
}
