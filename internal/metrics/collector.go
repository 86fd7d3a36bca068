// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the engine's Prometheus metrics. A nil *Collector is
// valid and records nothing, so components can treat metrics as optional.
type Collector struct {
	// Loader metrics
	skillLoadsTotal *prometheus.CounterVec

	// Installer metrics
	installsTotal    *prometheus.CounterVec
	installDuration  *prometheus.HistogramVec
	installCacheHits *prometheus.CounterVec
	lockWaitDuration prometheus.Histogram

	// Workflow metrics
	workflowsTotal     *prometheus.CounterVec
	workflowDuration   prometheus.Histogram
	stepsTotal         *prometheus.CounterVec
	stepDuration       prometheus.Histogram
	rollbacksTotal     prometheus.Counter
	compensationsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith creates a collector registered on a custom registerer.
// Tests use this with a fresh registry to avoid duplicate registration.
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.skillLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_loads_total",
			Help:      "Total number of skill loader operations",
		},
		[]string{"op", "outcome"},
	)

	c.installsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Total number of dependency install attempts",
		},
		[]string{"ecosystem", "outcome"},
	)

	c.installDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Dependency install duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"ecosystem"},
	)

	c.installCacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_cache_total",
			Help:      "Artifact cache lookups by result",
		},
		[]string{"result"},
	)

	c.lockWaitDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_lock_wait_seconds",
			Help:      "Time spent waiting for installation locks",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)

	c.workflowDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of workflow steps by terminal status",
		},
		[]string{"status"},
	)

	c.stepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.rollbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_rollbacks_total",
			Help:      "Total number of workflow rollbacks",
		},
	)

	c.compensationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_compensations_total",
			Help:      "Compensation handler invocations by outcome",
		},
		[]string{"outcome"},
	)

	return c
}

// RecordSkillLoad counts a loader operation.
func (c *Collector) RecordSkillLoad(op, outcome string) {
	if c == nil {
		return
	}
	c.skillLoadsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordInstall counts an install attempt and its duration.
func (c *Collector) RecordInstall(ecosystem, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.installsTotal.WithLabelValues(ecosystem, outcome).Inc()
	c.installDuration.WithLabelValues(ecosystem).Observe(duration.Seconds())
}

// RecordInstallCache counts an artifact cache lookup.
func (c *Collector) RecordInstallCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.installCacheHits.WithLabelValues(result).Inc()
}

// RecordLockWait records time spent waiting for an installation lock.
func (c *Collector) RecordLockWait(duration time.Duration) {
	if c == nil {
		return
	}
	c.lockWaitDuration.Observe(duration.Seconds())
}

// RecordWorkflow counts a terminal workflow execution.
func (c *Collector) RecordWorkflow(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workflowsTotal.WithLabelValues(status).Inc()
	c.workflowDuration.Observe(duration.Seconds())
}

// RecordStep counts a terminal workflow step.
func (c *Collector) RecordStep(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.Observe(duration.Seconds())
}

// RecordRollback counts a workflow rollback.
func (c *Collector) RecordRollback() {
	if c == nil {
		return
	}
	c.rollbacksTotal.Inc()
}

// RecordCompensation counts a compensation handler invocation.
func (c *Collector) RecordCompensation(outcome string) {
	if c == nil {
		return
	}
	c.compensationsTotal.WithLabelValues(outcome).Inc()
}
