package compose

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/skillforge/types"
)

// ExecutionStatus is the workflow execution state machine:
// pending → running → {completed | failed → rolled_back}.
// completed and rolled_back are terminal; failed is transient and always
// followed by rolled_back.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusRunning    ExecutionStatus = "running"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusRolledBack ExecutionStatus = "rolled_back"
)

// StepStatus is the per-step state within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowExecution is the mutable record of a single execution pass. It is
// mutated only by the engine during that pass and immutable once terminal.
// A terminal record carries enough detail (failing step, error, rollback
// outcome) to reconstruct what happened without reading logs.
type WorkflowExecution struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`

	StepStatus map[string]StepStatus `json:"per_step_status"`
	Results    map[string]any        `json:"results_by_step"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`

	RollbackPerformed bool     `json:"rollback_performed"`
	CompensatedSteps  []string `json:"compensated_steps,omitempty"`
	RollbackErrors    []string `json:"rollback_errors,omitempty"`
}

// newExecution creates a pending execution record for a step set.
func newExecution(workflowID string, steps []WorkflowStep) *WorkflowExecution {
	stepStatus := make(map[string]StepStatus, len(steps))
	for _, step := range steps {
		stepStatus[step.StepID] = StepPending
	}
	return &WorkflowExecution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      StatusPending,
		StepStatus:  stepStatus,
		Results:     make(map[string]any, len(steps)),
	}
}

// RollbackIncomplete returns a typed error describing the compensation
// problems recorded during rollback, or nil when every completed step
// compensated cleanly. Rollback problems are never re-thrown past the
// workflow boundary; callers inspect them here.
func (e *WorkflowExecution) RollbackIncomplete() error {
	if len(e.RollbackErrors) == 0 {
		return nil
	}
	return types.Errorf(types.ErrRollbackIncomplete, "%s", strings.Join(e.RollbackErrors, "; "))
}

// Terminal reports whether the execution reached a terminal status.
func (e *WorkflowExecution) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusRolledBack
}

func (e *WorkflowExecution) finish(status ExecutionStatus) {
	now := time.Now()
	e.Status = status
	e.CompletedAt = &now
}
