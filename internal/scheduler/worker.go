package scheduler

import (
	"context"
	"fmt"

	"crm_backend/internal/cadence/service"
	"crm_backend/internal/events"
	"crm_backend/platform/apperr"
	"crm_backend/platform/config"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ReconcileRunner is the part of the cadence reconciler the worker needs.
type ReconcileRunner interface {
	Reconcile(ctx context.Context, req service.ReconcileRequest) (service.Result, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	reconciler ReconcileRunner
	bus        events.Bus
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, reconciler ReconcileRunner, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(reconciler, bus, log)
	w.server = server
	return w, nil
}

func newWorker(reconciler ReconcileRunner, bus events.Bus, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:        mux,
		reconciler: reconciler,
		bus:        bus,
		log:        log,
	}

	mux.HandleFunc(TaskCadenceReconcile, w.handleCadenceReconcile)
	mux.HandleFunc(TaskCadenceTaskDue, w.handleCadenceTaskDue)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleCadenceReconcile runs a queued reconcile. Only retryable failures go
// back to asynq; bad payloads and not-found stages are dropped.
func (w *Worker) handleCadenceReconcile(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCadenceReconcilePayload(task)
	if err != nil {
		return fmt.Errorf("parse reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	req, err := reconcileRequest(payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result, err := w.reconciler.Reconcile(ctx, req)
	if err != nil {
		retryable := apperr.IsRetryable(err)
		w.log.JobFailed(TaskCadenceReconcile, err, retryable)
		if !retryable {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.log.Info("cadence reconcile job done", "leadId", req.LeadID, "tasksCreated", result.TasksCreated)
	return nil
}

func (w *Worker) handleCadenceTaskDue(ctx context.Context, task *asynq.Task) error {
	if w.bus == nil {
		return nil
	}

	payload, err := ParseCadenceTaskDuePayload(task)
	if err != nil {
		return fmt.Errorf("parse task due payload: %v: %w", err, asynq.SkipRetry)
	}

	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("task id: %v: %w", err, asynq.SkipRetry)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("lead id: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("tenant id: %v: %w", err, asynq.SkipRetry)
	}

	return w.bus.PublishSync(ctx, events.CadenceTaskDue{
		BaseEvent: events.NewBaseEvent(),
		TaskID:    taskID,
		LeadID:    leadID,
		TenantID:  tenantID,
	})
}

func reconcileRequest(payload CadenceReconcilePayload) (service.ReconcileRequest, error) {
	var req service.ReconcileRequest
	var err error

	if req.LeadID, err = uuid.Parse(payload.LeadID); err != nil {
		return req, fmt.Errorf("lead id: %w", err)
	}
	if req.PipelineID, err = uuid.Parse(payload.PipelineID); err != nil {
		return req, fmt.Errorf("pipeline id: %w", err)
	}
	if req.CurrentStageID, err = uuid.Parse(payload.CurrentStageID); err != nil {
		return req, fmt.Errorf("stage id: %w", err)
	}
	if req.TenantID, err = uuid.Parse(payload.TenantID); err != nil {
		return req, fmt.Errorf("tenant id: %w", err)
	}
	if payload.AssigneeID != nil && *payload.AssigneeID != "" {
		assignee, err := uuid.Parse(*payload.AssigneeID)
		if err != nil {
			return req, fmt.Errorf("assignee id: %w", err)
		}
		req.AssigneeID = &assignee
	}
	if req.Mode, err = service.ParseMode(payload.Mode); err != nil {
		return req, err
	}
	return req, nil
}
