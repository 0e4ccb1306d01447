package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskCadenceReconcile = "cadence.reconcile"

const TaskCadenceTaskDue = "cadence.task.due"

type CadenceReconcilePayload struct {
	LeadID         string  `json:"leadId"`
	PipelineID     string  `json:"pipelineId"`
	CurrentStageID string  `json:"currentStageId"`
	TenantID       string  `json:"tenantId"`
	AssigneeID     *string `json:"assigneeId,omitempty"`
	Mode           string  `json:"mode,omitempty"`
}

type CadenceTaskDuePayload struct {
	TaskID   string `json:"taskId"`
	LeadID   string `json:"leadId"`
	TenantID string `json:"tenantId"`
}

func NewCadenceReconcileTask(payload CadenceReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCadenceReconcile, data), nil
}

func ParseCadenceReconcilePayload(task *asynq.Task) (CadenceReconcilePayload, error) {
	var payload CadenceReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CadenceReconcilePayload{}, err
	}
	return payload, nil
}

func NewCadenceTaskDueTask(payload CadenceTaskDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCadenceTaskDue, data), nil
}

func ParseCadenceTaskDuePayload(task *asynq.Task) (CadenceTaskDuePayload, error) {
	var payload CadenceTaskDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CadenceTaskDuePayload{}, err
	}
	return payload, nil
}
