package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/skillforge/types"
)

// Repository is the persistence collaborator for execution records. Schema
// ownership is external; the engine only needs this narrow contract.
type Repository interface {
	Save(ctx context.Context, exec *WorkflowExecution) error
	FindByID(ctx context.Context, executionID string) (*WorkflowExecution, error)
	UpdateStatus(ctx context.Context, executionID string, status ExecutionStatus) error
}

// MemoryRepository keeps execution records in memory. Suitable for tests
// and single-process deployments that do not need durability.
type MemoryRepository struct {
	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{executions: make(map[string]*WorkflowExecution)}
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, exec *WorkflowExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	var snapshot WorkflowExecution
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[exec.ExecutionID] = &snapshot
	return nil
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, executionID string) (*WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "workflow execution %s not found", executionID)
	}
	return exec, nil
}

// UpdateStatus implements Repository.
func (r *MemoryRepository) UpdateStatus(_ context.Context, executionID string, status ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "workflow execution %s not found", executionID)
	}
	exec.Status = status
	return nil
}

// executionRecord is the GORM row model: identity and status columns for
// querying, the full execution as a JSON payload.
type executionRecord struct {
	ExecutionID string `gorm:"primaryKey;size:64"`
	WorkflowID  string `gorm:"index;size:128"`
	Status      string `gorm:"index;size:32"`
	Payload     []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (executionRecord) TableName() string { return "workflow_executions" }

// GormRepository persists execution records through GORM. Any dialect GORM
// supports works; tests use the pure-Go sqlite driver.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// NewGormRepository migrates the executions table and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&executionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate workflow_executions: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Save implements Repository.
func (r *GormRepository) Save(ctx context.Context, exec *WorkflowExecution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode workflow execution: %w", err)
	}
	record := executionRecord{
		ExecutionID: exec.ExecutionID,
		WorkflowID:  exec.WorkflowID,
		Status:      string(exec.Status),
		Payload:     payload,
	}
	return r.db.WithContext(ctx).Save(&record).Error
}

// FindByID implements Repository.
func (r *GormRepository) FindByID(ctx context.Context, executionID string) (*WorkflowExecution, error) {
	var record executionRecord
	err := r.db.WithContext(ctx).First(&record, "execution_id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "workflow execution %s not found", executionID)
	}
	if err != nil {
		return nil, err
	}

	var exec WorkflowExecution
	if err := json.Unmarshal(record.Payload, &exec); err != nil {
		return nil, fmt.Errorf("decode workflow execution: %w", err)
	}
	return &exec, nil
}

// UpdateStatus implements Repository.
func (r *GormRepository) UpdateStatus(ctx context.Context, executionID string, status ExecutionStatus) error {
	exec, err := r.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	exec.Status = status
	return r.Save(ctx, exec)
}
