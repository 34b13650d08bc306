package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"talentgrid/backend/internal/workflow"
)

// RedisExecutionStore keeps each execution record as a JSON string with a
// per-tenant set index and a global set index.
type RedisExecutionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisExecutionStore creates a RedisExecutionStore. Keys are prefixed
// with prefix.
func NewRedisExecutionStore(client *redis.Client, prefix string) *RedisExecutionStore {
	return &RedisExecutionStore{client: client, prefix: prefix}
}

func (s *RedisExecutionStore) recordKey(id string) string {
	return s.prefix + "execution:" + id
}

func (s *RedisExecutionStore) tenantKey(tenantID string) string {
	return s.prefix + "executions:tenant:" + tenantID
}

func (s *RedisExecutionStore) allKey() string {
	return s.prefix + "executions:all"
}

// SaveExecution writes exec and indexes it.
func (s *RedisExecutionStore) SaveExecution(ctx context.Context, exec *workflow.WorkflowExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(exec.ID), data, 0)
		pipe.SAdd(ctx, s.tenantKey(exec.TenantID), exec.ID)
		pipe.SAdd(ctx, s.allKey(), exec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution reads the record with id.
func (s *RedisExecutionStore) GetExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return decodeExecution(data)
}

// ListExecutions returns the records of tenantID, or every record when
// tenantID is empty, oldest first.
func (s *RedisExecutionStore) ListExecutions(ctx context.Context, tenantID string) ([]*workflow.WorkflowExecution, error) {
	index := s.allKey()
	if tenantID != "" {
		index = s.tenantKey(tenantID)
	}
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}

	execs := make([]*workflow.WorkflowExecution, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		exec, err := decodeExecution([]byte(str))
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	workflow.SortExecutions(execs)
	return execs, nil
}

// DeleteExecution removes the record with id and its index entries.
func (s *RedisExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	exec, err := s.GetExecution(ctx, id)
	if errors.Is(err, workflow.ErrExecutionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.tenantKey(exec.TenantID), id)
		pipe.SRem(ctx, s.allKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return nil
}

func decodeExecution(data []byte) (*workflow.WorkflowExecution, error) {
	var exec workflow.WorkflowExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	if exec.Metadata == nil {
		exec.Metadata = map[string]any{}
	}
	return &exec, nil
}
