package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm_backend/internal/cadence"
	"crm_backend/internal/cadence/repository"
	"crm_backend/internal/cadence/service"
	"crm_backend/internal/events"
	"crm_backend/internal/scheduler"
	"crm_backend/platform/config"
	"crm_backend/platform/db"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	batchSize         = 100
	perLeadTimeout    = 20 * time.Second
	delayBetweenLeads = 50 * time.Millisecond
)

// leadReconciler is the slice of the reconciler the back-fill drives.
type leadReconciler interface {
	Reconcile(ctx context.Context, req service.ReconcileRequest) (service.Result, error)
}

// positionLister pages through the leads of a pipeline.
type positionLister interface {
	ListLeadPositions(ctx context.Context, pipelineID, tenantID uuid.UUID, cursor repository.LeadCursor, limit int) ([]repository.LeadPosition, error)
}

// reconcileEnqueuer hands a reconcile run to the scheduler worker.
type reconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, payload scheduler.CadenceReconcilePayload) error
}

// queuedReconciler defers each lead to an asynq job instead of reconciling inline.
type queuedReconciler struct {
	client reconcileEnqueuer
}

func (q queuedReconciler) Reconcile(ctx context.Context, req service.ReconcileRequest) (service.Result, error) {
	payload := scheduler.CadenceReconcilePayload{
		LeadID:         req.LeadID.String(),
		PipelineID:     req.PipelineID.String(),
		CurrentStageID: req.CurrentStageID.String(),
		TenantID:       req.TenantID.String(),
		Mode:           string(req.Mode),
	}
	if req.AssigneeID != nil {
		assignee := req.AssigneeID.String()
		payload.AssigneeID = &assignee
	}
	if err := q.client.EnqueueReconcile(ctx, payload); err != nil {
		return service.Result{Success: false, Message: "enqueue failed"}, err
	}
	return service.Result{Success: true, Message: "enqueued"}, nil
}

// newReminderBus schedules a due reminder for every task the back-fill creates.
func newReminderBus(due scheduler.TaskDueScheduler, log *logger.Logger) *events.InMemoryBus {
	bus := events.NewInMemoryBus(log)
	scheduler.NewTaskDueReminders(due, log).RegisterHandlers(bus)
	return bus
}

type backfillStats struct {
	processed int
	created   int
	failed    int
}

func main() {
	pipelineFlag := flag.String("pipeline", "", "pipeline id to back-fill")
	tenantFlag := flag.String("tenant", "", "tenant (organization) id owning the pipeline")
	enqueueFlag := flag.Bool("enqueue", false, "enqueue reconcile jobs for the scheduler instead of running them inline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	pipelineID, err := uuid.Parse(*pipelineFlag)
	if err != nil {
		log.Error("invalid -pipeline flag", "value", *pipelineFlag, "error", err)
		os.Exit(2)
	}
	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		log.Error("invalid -tenant flag", "value", *tenantFlag, "error", err)
		os.Exit(2)
	}

	log.Info("starting cadence backfill", "pipelineId", pipelineID, "tenantId", tenantID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	var client *scheduler.Client
	if *enqueueFlag || cfg.IsSchedulerEnabled() {
		client, err = scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
	}

	// No redis lock: the unique index guards against a concurrent worker.
	deps := cadence.Dependencies{Pool: pool}
	var reminderBus *events.InMemoryBus
	if client != nil && !*enqueueFlag && cfg.GetTaskDueRemindersEnabled() {
		reminderBus = newReminderBus(client, log)
		deps.Bus = reminderBus
	}

	cadenceModule, err := cadence.NewModule(deps, cfg, log)
	if err != nil {
		log.Error("failed to initialize cadence module", "error", err)
		panic("failed to initialize cadence module: " + err.Error())
	}
	defer cadenceModule.Close()

	var reconciler leadReconciler = cadenceModule.Reconciler()
	if *enqueueFlag {
		reconciler = queuedReconciler{client: client}
	}

	stats := backfillPipeline(ctx, cadenceModule.Repository(), reconciler, pipelineID, tenantID, delayBetweenLeads, log)

	if reminderBus != nil {
		reminderBus.Wait()
	}

	log.Info("cadence backfill completed",
		"processed", stats.processed,
		"tasksCreated", stats.created,
		"failed", stats.failed,
	)
}

func backfillPipeline(ctx context.Context, leads positionLister, reconciler leadReconciler, pipelineID, tenantID uuid.UUID, delay time.Duration, log *logger.Logger) backfillStats {
	var stats backfillStats
	cursor := repository.LeadCursor{}

	for ctx.Err() == nil {
		batch, err := leads.ListLeadPositions(ctx, pipelineID, tenantID, cursor, batchSize)
		if err != nil {
			log.Error("failed to list leads", "error", err)
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, lead := range batch {
			cursor = lead.Next()
			stats.processed++

			leadCtx, cancel := context.WithTimeout(ctx, perLeadTimeout)
			result, err := reconciler.Reconcile(leadCtx, service.ReconcileRequest{
				LeadID:         lead.LeadID,
				PipelineID:     lead.PipelineID,
				CurrentStageID: lead.StageID,
				AssigneeID:     lead.AssigneeID,
				TenantID:       tenantID,
				Mode:           service.ModeCumulative,
			})
			cancel()
			if err != nil {
				stats.failed++
				log.Error("failed to reconcile lead", "leadId", lead.LeadID, "error", err)
				continue
			}

			stats.created += result.TasksCreated
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}

	return stats
}
