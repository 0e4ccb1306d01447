// Package service implements cadence reconciliation and cadence configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/lock"
	"crm_backend/internal/cadence/ports"
	"crm_backend/internal/events"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
)

const opReconcile = "cadence.reconcile"

// Reconciler makes sure every active template of every stage a lead has
// reached exists exactly once as a generated task instance. It only inserts.
type Reconciler struct {
	stages  ports.StageDirectory
	configs ports.ConfigStore
	tasks   ports.TaskStore
	locker  ports.StageLocker
	bus     events.Bus
	log     *logger.Logger
	now     func() time.Time
}

// NewReconciler wires a reconciler. A nil locker disables stage locking and a
// nil bus disables event publication.
func NewReconciler(stages ports.StageDirectory, configs ports.ConfigStore, tasks ports.TaskStore, locker ports.StageLocker, bus events.Bus, log *logger.Logger) *Reconciler {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Reconciler{
		stages:  stages,
		configs: configs,
		tasks:   tasks,
		locker:  locker,
		bus:     bus,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile processes the lead's stages according to req.Mode.
//
// Only a failure to read the stage directory, or a current stage outside the
// pipeline, fails the call. Stage and template failures are reported in the
// result details and the call continues. The Result is always populated; the
// error carries an apperr.Kind for callers that branch on it.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return failedResult(err.Error()), apperr.Validation(err.Error()).WithOp(opReconcile)
	}
	if err := validateRequest(req); err != nil {
		return failedResult(err.Message), err.WithOp(opReconcile)
	}

	log := r.log.WithTenantID(req.TenantID.String())

	stages, err := r.stages.ListStages(ctx, req.PipelineID, req.TenantID)
	if err != nil {
		log.Error("failed to load pipeline stages", "pipelineId", req.PipelineID, "leadId", req.LeadID, "error", err)
		msg := "failed to load pipeline stages"
		return failedResult(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opReconcile)
	}

	current := stageIndex(stages, req.CurrentStageID)
	if refresher, ok := r.stages.(ports.StageRefresher); ok && current < 0 {
		// A cached stage list may predate the stage the lead just entered.
		stages, err = refresher.RefreshStages(ctx, req.PipelineID, req.TenantID)
		if err != nil {
			log.Error("failed to reload pipeline stages", "pipelineId", req.PipelineID, "leadId", req.LeadID, "error", err)
			msg := "failed to load pipeline stages"
			return failedResult(msg), apperr.Wrap(apperr.KindInternal, msg, err).WithOp(opReconcile)
		}
		current = stageIndex(stages, req.CurrentStageID)
	}
	if current < 0 {
		msg := fmt.Sprintf("stage %s not found in pipeline %s", req.CurrentStageID, req.PipelineID)
		log.Error("current stage not in pipeline", "pipelineId", req.PipelineID, "stageId", req.CurrentStageID, "leadId", req.LeadID)
		return failedResult(msg), apperr.NotFound(msg).WithOp(opReconcile)
	}

	toProcess := stages[:current+1]
	if mode == ModeSingleStageStrict {
		toProcess = stages[current : current+1]
	}

	now := r.now()
	result := Result{Success: true, Details: make([]StageReport, 0, len(toProcess))}
	scheduled := make([]events.ScheduledTask, 0)

	for _, stage := range toProcess {
		report, created := r.reconcileStage(ctx, log, req, mode, stage, now)
		log.StageOutcome(req.LeadID.String(), stage.ID.String(), stage.Name, string(report.Outcome), report.Expected, report.Existing, report.Created)

		result.TasksCreated += report.Created
		result.Details = append(result.Details, report)
		scheduled = append(scheduled, created...)
	}

	result.Message = summarize(mode, result)

	if len(scheduled) > 0 && r.bus != nil {
		r.bus.Publish(ctx, events.CadenceTasksScheduled{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    req.LeadID,
			TenantID:  req.TenantID,
			Tasks:     scheduled,
		})
	}

	return result, nil
}

// GenerateForStage creates the cadence of a single stage, and only when the
// lead has no task at all for that stage yet.
func (r *Reconciler) GenerateForStage(ctx context.Context, leadID, pipelineID, stageID uuid.UUID, assigneeID *uuid.UUID, tenantID uuid.UUID) (Result, error) {
	return r.Reconcile(ctx, ReconcileRequest{
		LeadID:         leadID,
		PipelineID:     pipelineID,
		CurrentStageID: stageID,
		AssigneeID:     assigneeID,
		TenantID:       tenantID,
		Mode:           ModeSingleStageStrict,
	})
}

func (r *Reconciler) reconcileStage(ctx context.Context, log *logger.Logger, req ReconcileRequest, mode Mode, stage domain.Stage, now time.Time) (StageReport, []events.ScheduledTask) {
	report := StageReport{
		StageID:    stage.ID,
		StageName:  stage.Name,
		OrderIndex: stage.OrderIndex,
	}

	if stage.IsFinal() {
		report.Outcome = OutcomeFinalStage
		report.Message = "final stages receive no cadence"
		return report, nil
	}

	unlock, err := r.locker.Lock(ctx, lock.StageKey(req.TenantID, req.LeadID, stage.ID))
	if err != nil {
		log.Warn("stage lock unavailable", "leadId", req.LeadID, "stageId", stage.ID, "error", err)
		report.Outcome = OutcomeError
		report.Message = "stage is being reconciled by another run"
		return report, nil
	}
	defer unlock()

	var index domain.TemplateIndex
	if mode == ModeSingleStageStrict {
		count, err := r.tasks.CountForStage(ctx, req.LeadID, stage.ID, req.TenantID)
		if err != nil {
			log.Error("failed to count stage tasks", "leadId", req.LeadID, "stageId", stage.ID, "error", err)
			report.Outcome = OutcomeError
			report.Message = "failed to count existing tasks"
			return report, nil
		}
		if count > 0 {
			report.Existing = count
			report.Outcome = OutcomeTasksExist
			report.Message = "tasks already exist for stage"
			return report, nil
		}
		index = domain.NewTemplateIndex(nil)
	}

	configs, err := r.configs.ListActive(ctx, req.PipelineID, stage.Name, req.TenantID)
	if err != nil {
		log.Error("failed to load cadence config", "pipelineId", req.PipelineID, "stageName", stage.Name, "error", err)
		report.Outcome = OutcomeError
		report.Message = "failed to load cadence configuration"
		return report, nil
	}

	templates := activeTemplates(configs)
	report.Expected = len(templates)
	if len(templates) == 0 {
		report.Outcome = OutcomeNoConfig
		return report, nil
	}

	if mode == ModeCumulative {
		existing, err := r.tasks.ListAutoGenerated(ctx, req.LeadID, stage.ID, req.TenantID)
		if err != nil {
			log.Error("failed to load generated tasks", "leadId", req.LeadID, "stageId", stage.ID, "error", err)
			report.Outcome = OutcomeError
			report.Message = "failed to load existing tasks"
			return report, nil
		}
		report.Existing = len(existing)
		index = domain.NewTemplateIndex(existing)

		// Surplus instances of deactivated templates do not count towards completion.
		if countRepresented(index, templates) >= len(templates) {
			report.Outcome = OutcomeAlreadyComplete
			return report, nil
		}
	}

	scheduled := make([]events.ScheduledTask, 0, len(templates))
	duplicates := 0
	for _, tpl := range templates {
		if index.Has(tpl) {
			continue
		}

		task := domain.NewGeneratedTask(tpl, req.TenantID, req.LeadID, req.PipelineID, stage.ID, req.AssigneeID, now)
		saved, err := r.tasks.Insert(ctx, task)
		if errors.Is(err, ports.ErrDuplicate) {
			duplicates++
			index.Add(tpl)
			continue
		}
		if err != nil {
			log.Error("failed to create cadence task", "leadId", req.LeadID, "stageId", stage.ID, "title", tpl.Title, "error", err)
			report.Failed++
			continue
		}

		index.Add(tpl)
		report.Created++
		scheduled = append(scheduled, events.ScheduledTask{
			TaskID:      saved.ID,
			StageID:     stage.ID,
			ScheduledAt: saved.ScheduledAt,
			Channel:     string(saved.Channel),
			Title:       saved.Title,
		})
	}
	report.Existing += duplicates

	switch {
	case report.Created > 0:
		report.Outcome = OutcomeCreated
		if report.Failed > 0 {
			report.Message = fmt.Sprintf("%d of %d tasks failed", report.Failed, report.Failed+report.Created)
		}
	case report.Failed > 0:
		report.Outcome = OutcomeError
		report.Message = "every task insert failed"
	default:
		report.Outcome = OutcomeAlreadyComplete
	}

	return report, scheduled
}

func stageIndex(stages []domain.Stage, stageID uuid.UUID) int {
	for i, stage := range stages {
		if stage.ID == stageID {
			return i
		}
	}
	return -1
}

func activeTemplates(configs []domain.StageCadenceConfig) []domain.CadenceTaskTemplate {
	out := make([]domain.CadenceTaskTemplate, 0)
	for _, cfg := range configs {
		out = append(out, cfg.ActiveTemplates()...)
	}
	return out
}

func countRepresented(index domain.TemplateIndex, templates []domain.CadenceTaskTemplate) int {
	matched := 0
	for _, tpl := range templates {
		if index.Has(tpl) {
			matched++
		}
	}
	return matched
}

func validateRequest(req ReconcileRequest) *apperr.Error {
	switch {
	case req.LeadID == uuid.Nil:
		return apperr.Validation("lead id is required")
	case req.PipelineID == uuid.Nil:
		return apperr.Validation("pipeline id is required")
	case req.CurrentStageID == uuid.Nil:
		return apperr.Validation("current stage id is required")
	case req.TenantID == uuid.Nil:
		return apperr.Validation("tenant id is required")
	}
	return nil
}

func summarize(mode Mode, result Result) string {
	if mode == ModeSingleStageStrict && len(result.Details) == 1 && result.Details[0].Outcome == OutcomeTasksExist {
		return result.Details[0].Message
	}
	if result.TasksCreated == 0 {
		return "no new cadence tasks required"
	}
	return fmt.Sprintf("created %d cadence task(s) across %d stage(s)", result.TasksCreated, len(result.Details))
}
