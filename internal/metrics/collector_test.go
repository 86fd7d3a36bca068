package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	c.RecordSkillLoad("load", "ok")
	c.RecordInstall("python", "success", time.Second)
	c.RecordInstallCache(true)
	c.RecordLockWait(time.Millisecond)
	c.RecordWorkflow("completed", time.Second)
	c.RecordStep("completed", time.Millisecond)
	c.RecordRollback()
	c.RecordCompensation("ok")
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith("skillforge", reg, zaptest.NewLogger(t))

	c.RecordSkillLoad("load", "ok")
	c.RecordSkillLoad("load", "ok")
	c.RecordSkillLoad("reload", "error")
	c.RecordInstall("python", "success", 2*time.Second)
	c.RecordInstall("python", "blocked", time.Millisecond)
	c.RecordInstallCache(true)
	c.RecordInstallCache(false)
	c.RecordWorkflow("completed", time.Second)
	c.RecordWorkflow("rolled_back", time.Second)
	c.RecordStep("completed", time.Millisecond)
	c.RecordRollback()
	c.RecordCompensation("ok")
	c.RecordCompensation("missing")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.skillLoadsTotal.WithLabelValues("load", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.skillLoadsTotal.WithLabelValues("reload", "error")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.installsTotal.WithLabelValues("python", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.installCacheHits.WithLabelValues("hit")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.workflowsTotal.WithLabelValues("rolled_back")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.rollbacksTotal))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.compensationsTotal.WithLabelValues("missing")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := NewCollectorWith("skillforge", prometheus.NewRegistry(), nil)
	b := NewCollectorWith("skillforge", prometheus.NewRegistry(), nil)

	a.RecordRollback()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.rollbacksTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.rollbacksTotal))
}
