package compose

import (
	"fmt"
	"strings"

	"github.com/BaSui01/skillforge/types"
)

// stepGraph is the validated dependency structure of a step set: an edge
// runs from each dependency to its dependent.
type stepGraph struct {
	steps   []WorkflowStep
	byID    map[string]WorkflowStep
	// dependents[dep] lists the steps that declared dep as a dependency.
	dependents map[string][]string
	// indegree counts unmet dependencies per step.
	indegree map[string]int
}

// buildGraph validates closure and structure of a step set. It returns every
// problem it finds, not just the first: duplicate IDs, dangling dependency
// references (MISSING_DEPENDENCY), and cycles (CYCLE_DETECTED, citing one
// concrete cycle).
func buildGraph(steps []WorkflowStep) (*stepGraph, []error) {
	var errs []error

	g := &stepGraph{
		steps:      steps,
		byID:       make(map[string]WorkflowStep, len(steps)),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int, len(steps)),
	}

	for _, step := range steps {
		if step.StepID == "" {
			errs = append(errs, fmt.Errorf("step with skill %q has no step_id", step.SkillID))
			continue
		}
		if _, dup := g.byID[step.StepID]; dup {
			errs = append(errs, fmt.Errorf("duplicate step_id %q", step.StepID))
			continue
		}
		g.byID[step.StepID] = step
		g.indegree[step.StepID] = 0
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := g.byID[dep]; !ok {
				errs = append(errs, types.Errorf(types.ErrMissingDependency,
					"step %s depends on unknown step %s", step.StepID, dep))
				continue
			}
			if dep == step.StepID {
				errs = append(errs, types.Errorf(types.ErrCycleDetected,
					"cycle detected: [%s]", step.StepID))
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], step.StepID)
			g.indegree[step.StepID]++
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		errs = append(errs, types.Errorf(types.ErrCycleDetected,
			"cycle detected: [%s]", strings.Join(cycle, ", ")))
		return nil, errs
	}

	return g, nil
}

// topoOrder returns a topological execution order. Ties break by declaration
// order, so execution is deterministic for a given step list.
func (g *stepGraph) topoOrder() []string {
	indegree := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}

	order := make([]string, 0, len(g.steps))
	scheduled := make(map[string]bool, len(g.steps))

	for len(order) < len(g.byID) {
		progressed := false
		for _, step := range g.steps {
			id := step.StepID
			if scheduled[id] || indegree[id] != 0 {
				continue
			}
			scheduled[id] = true
			order = append(order, id)
			for _, dependent := range g.dependents[id] {
				indegree[dependent]--
			}
			progressed = true
		}
		if !progressed {
			// Unreachable after cycle validation.
			break
		}
	}
	return order
}

// findCycle returns one concrete cycle as a step ID path, or nil.
func (g *stepGraph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.byID))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)

		for _, next := range g.dependents[id] {
			switch state[next] {
			case inStack:
				// Extract the cycle from the stack.
				for i, s := range stack {
					if s == next {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, step := range g.steps {
		if state[step.StepID] == unvisited {
			if visit(step.StepID) {
				return cycle
			}
		}
	}
	return nil
}
