package compose

import (
	"context"
	"time"
)

// RetryPolicy bounds retries for a single step. Retries are internal to the
// step; they never appear as separate graph nodes.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`
	// Backoff is the delay before the second attempt.
	Backoff time.Duration `json:"backoff"`
	// BackoffFactor multiplies the delay after each attempt (default 2).
	BackoffFactor float64 `json:"backoff_factor"`
}

// DefaultRetryPolicy returns a single-attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: 100 * time.Millisecond, BackoffFactor: 2}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	return p
}

// WorkflowStep is an author-supplied, immutable workflow node. DependsOn
// must reference other steps in the same workflow; Condition, when present,
// is evaluated against the accumulated results before the step runs.
type WorkflowStep struct {
	StepID    string         `json:"step_id"`
	SkillID   string         `json:"skill_id"`
	Inputs    map[string]any `json:"static_inputs,omitempty"`
	DependsOn []string       `json:"dependency_step_ids,omitempty"`
	Condition string         `json:"condition_expr,omitempty"`
	Retry     *RetryPolicy   `json:"retry_policy,omitempty"`
}

// SkillRunner is the skill-execution collaborator. It may internally consult
// the loader; the engine only sees the narrow contract.
type SkillRunner interface {
	// Run executes a skill with resolved inputs and returns its output.
	Run(ctx context.Context, skillID string, inputs map[string]any, agentContext map[string]any) (any, error)

	// Compensate invokes the skill's registered compensation handler for a
	// previously recorded output. handled is false when the skill has no
	// handler; rollback treats that as a logged no-op.
	Compensate(ctx context.Context, skillID string, output any) (handled bool, err error)
}

// Provisioner prepares a skill before its step runs: loading the unit and
// auto-installing its declared dependencies. Optional; a nil provisioner
// means steps run against already-provisioned skills.
type Provisioner interface {
	Provision(ctx context.Context, skillID string) error
}
