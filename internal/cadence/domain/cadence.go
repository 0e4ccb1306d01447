// Package domain holds the cadence data contracts shared by the reconciler,
// the configuration service and the storage adapters.
package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is the medium a follow-up activity uses.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelCall     Channel = "call"
	ChannelSMS      Channel = "sms"
	ChannelTask     Channel = "task"
	ChannelVisit    Channel = "visit"
)

var knownChannels = map[Channel]struct{}{
	ChannelEmail:    {},
	ChannelWhatsApp: {},
	ChannelCall:     {},
	ChannelSMS:      {},
	ChannelTask:     {},
	ChannelVisit:    {},
}

func (c Channel) Valid() bool {
	_, ok := knownChannels[c]
	return ok
}

// ActionType describes what the assignee is expected to do.
type ActionType string

const (
	ActionMessage       ActionType = "message"
	ActionCall          ActionType = "call"
	ActionTask          ActionType = "task"
	ActionEmailFollowUp ActionType = "email_followup"
	ActionScheduling    ActionType = "scheduling"
	ActionProposal      ActionType = "proposal"
)

var knownActionTypes = map[ActionType]struct{}{
	ActionMessage:       {},
	ActionCall:          {},
	ActionTask:          {},
	ActionEmailFollowUp: {},
	ActionScheduling:    {},
	ActionProposal:      {},
}

func (a ActionType) Valid() bool {
	_, ok := knownActionTypes[a]
	return ok
}

// TaskStatus is the lifecycle state of a task instance.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Stage is one step of a pipeline as reported by the stage directory.
type Stage struct {
	ID         uuid.UUID
	PipelineID uuid.UUID
	Name       string
	OrderIndex int
}

// IsFinal reports whether the stage is a terminal pipeline outcome.
func (s Stage) IsFinal() bool {
	order := s.OrderIndex
	return IsFinalStage(s.Name, &order)
}

// CadenceTaskTemplate is the configured definition of one follow-up activity.
type CadenceTaskTemplate struct {
	ID              uuid.UUID
	DayOffset       int
	TaskOrder       int
	Channel         Channel
	ActionType      ActionType
	Title           string
	Description     string
	TemplateContent *string
	IsActive        bool
}

// StageCadenceConfig owns the templates of one (pipeline, stage name, tenant).
type StageCadenceConfig struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PipelineID uuid.UUID
	StageName  string
	IsActive   bool
	Templates  []CadenceTaskTemplate
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ActiveTemplates returns the active templates ordered by task order, then day offset.
// An inactive config has no active templates.
func (c StageCadenceConfig) ActiveTemplates() []CadenceTaskTemplate {
	if !c.IsActive {
		return nil
	}
	out := make([]CadenceTaskTemplate, 0, len(c.Templates))
	for _, tpl := range c.Templates {
		if tpl.IsActive {
			out = append(out, tpl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TaskOrder != out[j].TaskOrder {
			return out[i].TaskOrder < out[j].TaskOrder
		}
		return out[i].DayOffset < out[j].DayOffset
	})
	return out
}

// TaskInstance is a scheduled, per-lead materialization of a template or a
// manually created activity.
type TaskInstance struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	LeadID           uuid.UUID
	PipelineID       uuid.UUID
	StageID          uuid.UUID
	TemplateID       *uuid.UUID
	AssigneeID       *uuid.UUID
	Channel          Channel
	ActionType       ActionType
	Title            string
	Description      string
	TemplateContent  *string
	DayOffset        int
	TaskOrder        int
	Status           TaskStatus
	ScheduledAt      time.Time
	IsManualActivity bool
	AutoGenerated    bool
	CreatedAt        time.Time
}

// IsGenerated reports whether the reconciler owns this instance.
func (t TaskInstance) IsGenerated() bool {
	return t.AutoGenerated && !t.IsManualActivity
}

// ScheduleFrom returns the moment a template is due when its stage was entered at enteredAt.
func ScheduleFrom(enteredAt time.Time, dayOffset int) time.Time {
	if dayOffset < 0 {
		dayOffset = 0
	}
	return enteredAt.AddDate(0, 0, dayOffset)
}

// NewGeneratedTask materializes a template for a lead. The result is pending,
// auto-generated and linked to the template.
func NewGeneratedTask(tpl CadenceTaskTemplate, tenantID, leadID, pipelineID, stageID uuid.UUID, assignee *uuid.UUID, enteredAt time.Time) TaskInstance {
	templateID := tpl.ID
	var tplRef *uuid.UUID
	if templateID != uuid.Nil {
		tplRef = &templateID
	}
	return TaskInstance{
		TenantID:         tenantID,
		LeadID:           leadID,
		PipelineID:       pipelineID,
		StageID:          stageID,
		TemplateID:       tplRef,
		AssigneeID:       assignee,
		Channel:          tpl.Channel,
		ActionType:       tpl.ActionType,
		Title:            tpl.Title,
		Description:      tpl.Description,
		TemplateContent:  tpl.TemplateContent,
		DayOffset:        tpl.DayOffset,
		TaskOrder:        tpl.TaskOrder,
		Status:           TaskStatusPending,
		ScheduledAt:      ScheduleFrom(enteredAt, tpl.DayOffset),
		IsManualActivity: false,
		AutoGenerated:    true,
	}
}

// TemplateIndex answers whether a template already has a generated instance.
// Instances that carry a template ID match on it. Instances without one
// (written before template IDs were tracked) fall back to a title match.
type TemplateIndex struct {
	byTemplateID map[uuid.UUID]struct{}
	byTitle      map[string]struct{}
}

// NewTemplateIndex indexes the given generated instances of a single stage.
func NewTemplateIndex(existing []TaskInstance) TemplateIndex {
	idx := TemplateIndex{
		byTemplateID: make(map[uuid.UUID]struct{}, len(existing)),
		byTitle:      make(map[string]struct{}, len(existing)),
	}
	for _, task := range existing {
		if !task.IsGenerated() {
			continue
		}
		if task.TemplateID != nil && *task.TemplateID != uuid.Nil {
			idx.byTemplateID[*task.TemplateID] = struct{}{}
			continue
		}
		idx.byTitle[titleKey(task.Title)] = struct{}{}
	}
	return idx
}

// Has reports whether tpl is already represented.
func (idx TemplateIndex) Has(tpl CadenceTaskTemplate) bool {
	if tpl.ID != uuid.Nil {
		if _, ok := idx.byTemplateID[tpl.ID]; ok {
			return true
		}
	}
	_, ok := idx.byTitle[titleKey(tpl.Title)]
	return ok
}

// Add records tpl as represented.
func (idx TemplateIndex) Add(tpl CadenceTaskTemplate) {
	if tpl.ID != uuid.Nil {
		idx.byTemplateID[tpl.ID] = struct{}{}
		return
	}
	idx.byTitle[titleKey(tpl.Title)] = struct{}{}
}

func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
