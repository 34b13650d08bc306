package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ExecutionStore persists WorkflowExecution records. Implementations must
// be safe for concurrent use.
type ExecutionStore interface {
	// SaveExecution inserts or replaces the record.
	SaveExecution(ctx context.Context, exec *WorkflowExecution) error
	// GetExecution returns the record or ErrExecutionNotFound.
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	// ListExecutions returns the records of tenantID, or all when empty,
	// oldest first.
	ListExecutions(ctx context.Context, tenantID string) ([]*WorkflowExecution, error)
	// DeleteExecution removes the record. Deleting a missing id is not an error.
	DeleteExecution(ctx context.Context, id string) error
}

// MemoryStore keeps execution records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*WorkflowExecution
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*WorkflowExecution)}
}

func (s *MemoryStore) SaveExecution(_ context.Context, exec *WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return exec.Clone(), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, tenantID string) ([]*WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*WorkflowExecution
	for _, exec := range s.records {
		if tenantID == "" || exec.TenantID == tenantID {
			res = append(res, exec.Clone())
		}
	}
	SortExecutions(res)
	return res, nil
}

func (s *MemoryStore) DeleteExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// SortExecutions orders records by start time, oldest first.
func SortExecutions(execs []*WorkflowExecution) {
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].StartTime.Before(execs[j].StartTime)
	})
}
