// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"crm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Pipeline Events
// =============================================================================

// LeadStageChanged is published by the pipeline workflow when a lead moves to
// (or re-enters) a stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	PipelineID uuid.UUID  `json:"pipelineId"`
	TenantID   uuid.UUID  `json:"tenantId"`
	OldStageID *uuid.UUID `json:"oldStageId,omitempty"`
	NewStageID uuid.UUID  `json:"newStageId"`
	AssigneeID *uuid.UUID `json:"assigneeId,omitempty"`
}

func (e LeadStageChanged) EventName() string { return "pipeline.lead.stage_changed" }

// =============================================================================
// Cadence Events
// =============================================================================

// ScheduledTask describes one task instance created by a reconcile run.
type ScheduledTask struct {
	TaskID      uuid.UUID `json:"taskId"`
	StageID     uuid.UUID `json:"stageId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Channel     string    `json:"channel"`
	Title       string    `json:"title"`
}

// CadenceTasksScheduled is published after a reconcile run created tasks.
type CadenceTasksScheduled struct {
	BaseEvent
	LeadID   uuid.UUID       `json:"leadId"`
	TenantID uuid.UUID       `json:"tenantId"`
	Tasks    []ScheduledTask `json:"tasks"`
}

func (e CadenceTasksScheduled) EventName() string { return "cadence.tasks.scheduled" }

// CadenceTaskDue is published when a scheduled task reaches its due time.
type CadenceTaskDue struct {
	BaseEvent
	TaskID   uuid.UUID `json:"taskId"`
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
}

func (e CadenceTaskDue) EventName() string { return "cadence.task.due" }

// CadenceConfigSaved is published after a stage config was upserted.
type CadenceConfigSaved struct {
	BaseEvent
	ConfigID      uuid.UUID `json:"configId"`
	PipelineID    uuid.UUID `json:"pipelineId"`
	TenantID      uuid.UUID `json:"tenantId"`
	StageName     string    `json:"stageName"`
	IsActive      bool      `json:"isActive"`
	TemplateCount int       `json:"templateCount"`
}

func (e CadenceConfigSaved) EventName() string { return "cadence.config.saved" }

// PipelineStagesChanged is published after the stage list of a pipeline was edited.
type PipelineStagesChanged struct {
	BaseEvent
	PipelineID uuid.UUID `json:"pipelineId"`
	TenantID   uuid.UUID `json:"tenantId"`
}

func (e PipelineStagesChanged) EventName() string { return "pipeline.stages.changed" }
