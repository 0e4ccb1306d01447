package scheduler

import (
	"context"
	"errors"

	"crm_backend/internal/events"
	"crm_backend/platform/logger"
)

// TaskDueReminders turns freshly scheduled cadence tasks into delayed
// task-due jobs.
type TaskDueReminders struct {
	scheduler TaskDueScheduler
	log       *logger.Logger
}

func NewTaskDueReminders(scheduler TaskDueScheduler, log *logger.Logger) *TaskDueReminders {
	return &TaskDueReminders{scheduler: scheduler, log: log}
}

// RegisterHandlers subscribes to cadence scheduling events.
func (r *TaskDueReminders) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CadenceTasksScheduled{}.EventName(), r)
}

// Handle schedules one reminder per task. Every task is attempted even when
// an earlier one fails.
func (r *TaskDueReminders) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.CadenceTasksScheduled)
	if !ok || r.scheduler == nil {
		return nil
	}

	var errs []error
	for _, task := range e.Tasks {
		payload := CadenceTaskDuePayload{
			TaskID:   task.TaskID.String(),
			LeadID:   e.LeadID.String(),
			TenantID: e.TenantID.String(),
		}
		if err := r.scheduler.ScheduleTaskDue(ctx, payload, task.ScheduledAt); err != nil {
			r.log.Error("failed to schedule cadence task reminder", "taskId", task.TaskID, "leadId", e.LeadID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ events.Handler = (*TaskDueReminders)(nil)
