package compose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillforge/audit"
	"github.com/BaSui01/skillforge/internal/metrics"
	"github.com/BaSui01/skillforge/types"
)

// Engine validates and executes multi-step workflows: topological execution
// of a validated DAG, one step at a time, with dependency-output input
// resolution, restricted condition gating, per-step retry, and best-effort
// compensation rollback on failure.
//
// Execution is single-threaded per WorkflowExecution even where the DAG
// would permit parallel branches; that keeps rollback ordering (reverse of
// completion order) trivially deterministic.
type Engine struct {
	runner      SkillRunner
	provisioner Provisioner
	repo        Repository
	audit       audit.Sink
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewEngine wires a composition engine. runner is required; provisioner,
// repo, audit sink, and collector are optional collaborators.
func NewEngine(
	runner SkillRunner,
	provisioner Provisioner,
	repo Repository,
	auditSink audit.Sink,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	return &Engine{
		runner:      runner,
		provisioner: provisioner,
		repo:        repo,
		audit:       auditSink,
		collector:   collector,
		logger:      logger.With(zap.String("component", "compose_engine")),
	}
}

// Validate checks a step set for dangling dependency references and cycles.
// It returns every problem found; an empty slice means the set is executable.
func (e *Engine) Validate(steps []WorkflowStep) []error {
	_, errs := buildGraph(steps)
	return errs
}

// Execute runs a workflow to a terminal state. Validation failures abort
// before any side effect. A step failure (after exhausting its retry
// policy) stops the pass and triggers rollback of the completed prefix in
// reverse completion order; rollback problems are recorded on the execution,
// never re-thrown past the workflow boundary.
func (e *Engine) Execute(ctx context.Context, workflowID string, steps []WorkflowStep, agentContext map[string]any) (*WorkflowExecution, error) {
	graph, errs := buildGraph(steps)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	exec := newExecution(workflowID, steps)
	exec.Status = StatusRunning
	exec.StartedAt = time.Now()
	e.persist(ctx, exec)

	e.logger.Info("workflow execution started",
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", exec.ExecutionID),
		zap.Int("steps", len(steps)))

	order := graph.topoOrder()
	var completedOrder []string

	for _, stepID := range order {
		step := graph.byID[stepID]

		// The engine has no workflow timer of its own; the caller-supplied
		// context deadline is honored between steps.
		if err := ctx.Err(); err != nil {
			return e.failAndRollback(ctx, exec, graph, step, completedOrder, err)
		}

		if e.provisioner != nil {
			if err := e.provisioner.Provision(ctx, step.SkillID); err != nil {
				return e.failAndRollback(ctx, exec, graph, step, completedOrder,
					fmt.Errorf("provision skill %s: %w", step.SkillID, err))
			}
		}

		inputs := resolveInputs(step, exec.Results)

		if step.Condition != "" {
			ok, err := EvalCondition(step.Condition, exec.Results)
			if err != nil {
				return e.failAndRollback(ctx, exec, graph, step, completedOrder,
					fmt.Errorf("evaluate condition for step %s: %w", stepID, err))
			}
			if !ok {
				exec.StepStatus[stepID] = StepSkipped
				e.collector.RecordStep(string(StepSkipped), 0)
				e.logger.Debug("step skipped by condition",
					zap.String("execution_id", exec.ExecutionID),
					zap.String("step_id", stepID))
				continue
			}
		}

		exec.StepStatus[stepID] = StepRunning
		stepStart := time.Now()

		output, err := e.runWithRetry(ctx, step, inputs, agentContext)
		if err != nil {
			exec.StepStatus[stepID] = StepFailed
			e.collector.RecordStep(string(StepFailed), time.Since(stepStart))
			return e.failAndRollback(ctx, exec, graph, step, completedOrder, err)
		}

		exec.Results[stepID] = output
		exec.StepStatus[stepID] = StepCompleted
		completedOrder = append(completedOrder, stepID)
		e.collector.RecordStep(string(StepCompleted), time.Since(stepStart))
		e.logger.Debug("step completed",
			zap.String("execution_id", exec.ExecutionID),
			zap.String("step_id", stepID),
			zap.Duration("duration", time.Since(stepStart)))
	}

	exec.finish(StatusCompleted)
	e.persist(ctx, exec)
	e.collector.RecordWorkflow(string(StatusCompleted), time.Since(exec.StartedAt))
	e.logger.Info("workflow execution completed",
		zap.String("execution_id", exec.ExecutionID),
		zap.Int("completed_steps", len(completedOrder)))
	return exec, nil
}

// runWithRetry applies the step's retry policy: bounded attempts with
// multiplicative backoff. Context cancellation stops retrying immediately.
func (e *Engine) runWithRetry(ctx context.Context, step WorkflowStep, inputs, agentContext map[string]any) (any, error) {
	policy := DefaultRetryPolicy()
	if step.Retry != nil {
		policy = step.Retry.normalized()
	}

	delay := policy.Backoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		output, err := e.runner.Run(ctx, step.SkillID, inputs, agentContext)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts || ctx.Err() != nil {
			break
		}
		e.logger.Warn("step attempt failed, retrying",
			zap.String("step_id", step.StepID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
	}
	return nil, lastErr
}

// failAndRollback marks the failing step, compensates the completed prefix
// in reverse completion order, and finishes the execution as rolled_back.
func (e *Engine) failAndRollback(ctx context.Context, exec *WorkflowExecution, graph *stepGraph, step WorkflowStep, completedOrder []string, cause error) (*WorkflowExecution, error) {
	exec.StepStatus[step.StepID] = StepFailed
	exec.FailedStep = step.StepID
	exec.Error = cause.Error()
	exec.Status = StatusFailed

	e.logger.Warn("step failed, rolling back completed steps",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("failed_step", step.StepID),
		zap.Int("completed_steps", len(completedOrder)),
		zap.Error(cause))

	e.rollback(ctx, exec, graph, completedOrder)

	exec.RollbackPerformed = true
	exec.finish(StatusRolledBack)
	e.persist(ctx, exec)
	e.collector.RecordWorkflow(string(StatusRolledBack), time.Since(exec.StartedAt))
	e.collector.RecordRollback()

	outcome := audit.OutcomeRollback
	e.audit.Record(ctx, audit.Event{
		Time:    time.Now(),
		Action:  "workflow_rollback",
		SkillID: step.SkillID,
		Outcome: outcome,
		Detail: fmt.Sprintf("execution %s: step %s failed: %v; compensated %d of %d completed steps",
			exec.ExecutionID, step.StepID, cause, len(exec.CompensatedSteps), len(completedOrder)),
	})

	return exec, types.Errorf(types.ErrStepExecution,
		"step %s failed", step.StepID).WithCause(cause)
}

// rollback compensates completed steps in reverse completion order. A
// missing handler is a logged no-op; a failing handler is recorded as an
// incomplete rollback but does not stop the remaining compensations.
func (e *Engine) rollback(ctx context.Context, exec *WorkflowExecution, graph *stepGraph, completedOrder []string) {
	// Compensation runs even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)

	for i := len(completedOrder) - 1; i >= 0; i-- {
		stepID := completedOrder[i]
		step := graph.byID[stepID]
		output := exec.Results[stepID]

		handled, err := e.runner.Compensate(ctx, step.SkillID, output)
		switch {
		case err != nil:
			e.collector.RecordCompensation("failed")
			msg := fmt.Sprintf("compensation for step %s (skill %s) failed: %v", stepID, step.SkillID, err)
			exec.RollbackErrors = append(exec.RollbackErrors, msg)
			e.logger.Warn("compensation handler failed",
				zap.String("execution_id", exec.ExecutionID),
				zap.String("step_id", stepID),
				zap.Error(err))
		case !handled:
			e.collector.RecordCompensation("missing")
			e.logger.Info("no compensation handler registered, skipping",
				zap.String("execution_id", exec.ExecutionID),
				zap.String("step_id", stepID),
				zap.String("skill_id", step.SkillID))
		default:
			e.collector.RecordCompensation("ok")
			exec.CompensatedSteps = append(exec.CompensatedSteps, stepID)
			e.logger.Info("step compensated",
				zap.String("execution_id", exec.ExecutionID),
				zap.String("step_id", stepID))
		}
	}
}

// resolveInputs merges a step's static inputs with its dependencies'
// recorded outputs, in dependency declaration order. Structured outputs
// merge key-by-key with later dependencies overriding earlier ones; scalar
// outputs are namespaced as "<dep>_output". Dependency outputs always win
// over static inputs on key collision.
func resolveInputs(step WorkflowStep, results map[string]any) map[string]any {
	inputs := make(map[string]any, len(step.Inputs)+len(step.DependsOn))
	for k, v := range step.Inputs {
		inputs[k] = v
	}

	for _, dep := range step.DependsOn {
		output, ok := results[dep]
		if !ok {
			// Skipped dependencies record no output.
			continue
		}
		if m, structured := output.(map[string]any); structured {
			for k, v := range m {
				inputs[k] = v
			}
			continue
		}
		inputs[dep+"_output"] = output
	}
	return inputs
}

// persist saves the execution record; repository failures are logged, never
// allowed to interfere with the execution pass.
func (e *Engine) persist(ctx context.Context, exec *WorkflowExecution) {
	if e.repo == nil {
		return
	}
	if err := e.repo.Save(ctx, exec); err != nil {
		e.logger.Warn("failed to persist workflow execution",
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err))
	}
}
