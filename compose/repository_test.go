package compose

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/skillforge/types"
)

func sampleExecution(id string) *WorkflowExecution {
	now := time.Now().UTC().Truncate(time.Second)
	return &WorkflowExecution{
		ExecutionID: id,
		WorkflowID:  "etl",
		Status:      StatusRunning,
		StepStatus:  map[string]StepStatus{"fetch": StepCompleted, "store": StepRunning},
		Results:     map[string]any{"fetch": map[string]any{"rows": 42.0}},
		StartedAt:   now,
	}
}

func repositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "absent")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	exec := sampleExecution("exec-1")
	require.NoError(t, repo.Save(ctx, exec))

	found, err := repo.FindByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "etl", found.WorkflowID)
	assert.Equal(t, StatusRunning, found.Status)
	assert.Equal(t, StepCompleted, found.StepStatus["fetch"])

	// Saved snapshots are isolated from later caller mutations.
	exec.WorkflowID = "mutated"
	unaffected, err := repo.FindByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "etl", unaffected.WorkflowID)

	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", StatusCompleted))
	updated, err := repo.FindByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)

	err = repo.UpdateStatus(ctx, "absent", StatusCompleted)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	// Save is an upsert.
	exec2 := sampleExecution("exec-1")
	exec2.Status = StatusRolledBack
	require.NoError(t, repo.Save(ctx, exec2))
	final, err := repo.FindByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, final.Status)
}

func TestMemoryRepository(t *testing.T) {
	repositoryContract(t, NewMemoryRepository())
}

func TestGormRepository(t *testing.T) {
	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "executions.db")),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)},
	)
	require.NoError(t, err)

	repo, err := NewGormRepository(db)
	require.NoError(t, err)

	repositoryContract(t, repo)
}

func TestGormRepositoryRoundTripsRollbackDetail(t *testing.T) {
	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "executions.db")),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)},
	)
	require.NoError(t, err)

	repo, err := NewGormRepository(db)
	require.NoError(t, err)

	exec := sampleExecution("exec-rb")
	exec.Status = StatusRolledBack
	exec.FailedStep = "store"
	exec.Error = "quota exceeded"
	exec.RollbackPerformed = true
	exec.CompensatedSteps = []string{"fetch"}
	exec.RollbackErrors = []string{"compensation for step x failed"}

	require.NoError(t, repo.Save(context.Background(), exec))

	found, err := repo.FindByID(context.Background(), "exec-rb")
	require.NoError(t, err)
	assert.Equal(t, "store", found.FailedStep)
	assert.True(t, found.RollbackPerformed)
	assert.Equal(t, []string{"fetch"}, found.CompensatedSteps)
	assert.Equal(t, []string{"compensation for step x failed"}, found.RollbackErrors)
}
