package service

import (
	"fmt"

	"crm_backend/internal/cadence/domain"

	"github.com/google/uuid"
)

// Mode selects how a reconcile run treats existing instances.
type Mode string

const (
	// ModeCumulative walks every stage up to and including the current one and
	// creates only the templates that have no generated instance yet.
	ModeCumulative Mode = "cumulative"
	// ModeSingleStageStrict looks at the current stage only and does nothing
	// when any instance, manual or generated, already exists for it.
	ModeSingleStageStrict Mode = "single_stage_strict"
)

// ParseMode maps a stored or transported mode name to a Mode. Empty means cumulative.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", ModeCumulative:
		return ModeCumulative, nil
	case ModeSingleStageStrict:
		return ModeSingleStageStrict, nil
	default:
		return "", fmt.Errorf("unknown reconcile mode %q", value)
	}
}

// Outcome tags the result of reconciling one stage.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeAlreadyComplete Outcome = "already_complete"
	OutcomeNoConfig        Outcome = "no_config"
	OutcomeError           Outcome = "error"
	OutcomeFinalStage      Outcome = "final_stage"
	OutcomeTasksExist      Outcome = "tasks_exist"
)

// ReconcileRequest identifies the lead and the stage it now sits in.
type ReconcileRequest struct {
	LeadID         uuid.UUID
	PipelineID     uuid.UUID
	CurrentStageID uuid.UUID
	AssigneeID     *uuid.UUID
	TenantID       uuid.UUID
	Mode           Mode
}

// StageReport describes what happened to one stage during a run.
type StageReport struct {
	StageID    uuid.UUID `json:"stageId"`
	StageName  string    `json:"stageName"`
	OrderIndex int       `json:"orderIndex"`
	Outcome    Outcome   `json:"outcome"`
	Expected   int       `json:"expected"`
	Existing   int       `json:"existing"`
	Created    int       `json:"created"`
	Failed     int       `json:"failed"`
	Message    string    `json:"message,omitempty"`
}

// Result is returned by every reconcile run, including failed ones.
type Result struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	TasksCreated int           `json:"tasksCreated"`
	Details      []StageReport `json:"details"`
}

// Report returns the stage report for stageID.
func (r Result) Report(stageID uuid.UUID) (StageReport, bool) {
	for _, report := range r.Details {
		if report.StageID == stageID {
			return report, true
		}
	}
	return StageReport{}, false
}

// ConfigResult is returned by the configuration operations.
type ConfigResult struct {
	Success bool                        `json:"success"`
	Message string                      `json:"message"`
	Config  *domain.StageCadenceConfig  `json:"config,omitempty"`
	Configs []domain.StageCadenceConfig `json:"configs,omitempty"`
}

func failedResult(message string) Result {
	return Result{Success: false, Message: message, Details: []StageReport{}}
}

func failedConfig(message string) ConfigResult {
	return ConfigResult{Success: false, Message: message}
}
